//go:build unix

package codebuf

import "golang.org/x/sys/unix"

func mmapCodeRegion(size int) ([]byte, error) {
	// Anonymous and private: the region is process memory, not backed by a file.
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func munmapCodeRegion(mem []byte) error {
	return unix.Munmap(mem)
}
