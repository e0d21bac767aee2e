//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package fmo

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
}

func syncFile(_ *os.File, data []byte) error {
	return unix.Msync(data, unix.MS_ASYNC)
}

func unmapFile(_ *os.File, data []byte, _ bool) error {
	return unix.Munmap(data)
}
