//go:build !unix

package tileindex

import (
	"io"
	"os"
)

// mapFile falls back to reading the whole file on platforms without
// mmap support.
func mapFile(f *os.File, size int) ([]byte, bool, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, false, err
	}
	return data, false, nil
}

func unmapFile([]byte) error { return nil }
