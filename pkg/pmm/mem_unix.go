//go:build unix

package pmm

import "golang.org/x/sys/unix"

// mapMemory backs the arena with an anonymous private mapping.
func mapMemory(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapMemory(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem)
}
