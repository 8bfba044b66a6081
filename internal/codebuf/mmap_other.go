//go:build !unix

package codebuf

import "errors"

func mmapCodeRegion(int) ([]byte, error) {
	return nil, errors.New("executable code regions are not supported on this platform")
}

func munmapCodeRegion([]byte) error {
	return nil
}
