//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package fmo

import (
	"errors"
	"os"
)

var errLocked = errors.New("fmo: lock held elsewhere")

// The lock file's existence is the lock.
func tryLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, errLocked
		}
		return nil, err
	}
	return f, nil
}

func unlock(f *os.File, path string) error {
	err := f.Close()
	if rerr := os.Remove(path); err == nil {
		err = rerr
	}
	return err
}
