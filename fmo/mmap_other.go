//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package fmo

import (
	"errors"
	"io"
	"os"
)

// Without mmap the region is an in-memory copy written back on Sync and Close.

func mapFile(f *os.File, size int, _ bool) ([]byte, error) {
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return data, nil
}

func syncFile(f *os.File, data []byte) error {
	_, err := f.WriteAt(data, 0)
	return err
}

func unmapFile(f *os.File, data []byte, writable bool) error {
	if !writable {
		return nil
	}
	return syncFile(f, data)
}
