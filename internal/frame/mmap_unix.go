//go:build unix

package frame

import "golang.org/x/sys/unix"

func mmapStack(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func munmapStack(mem []byte) error {
	return unix.Munmap(mem)
}
