//go:build !unix

package pmm

func mapMemory(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapMemory(mem []byte) error {
	return nil
}
