//go:build !unix

package frame

// Native code only runs on unix, so elsewhere the stack only has to hold frames built and
// inspected from Go.
func mmapStack(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func munmapStack([]byte) error {
	return nil
}
