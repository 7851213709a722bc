//go:build unix

package tileindex

import (
	"os"
	"syscall"
)

// mapFile memory-maps f read-only. The descriptor can be closed after
// mapping; the mapping survives replacement of the file on disk.
func mapFile(f *os.File, size int) ([]byte, bool, error) {
	if size == 0 {
		return nil, false, nil
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func unmapFile(data []byte) error {
	return syscall.Munmap(data)
}
