package fmo

import (
	"context"
	"errors"
	"os"
	"time"
)

const lockRetry = 10 * time.Millisecond

// Mutex is a named lock shared between processes through a lock file.
type Mutex struct {
	path string
	// sem serializes holders inside this process.
	sem chan struct{}
	f   *os.File
}

// NewMutex returns a mutex named by the lock file path. Nothing is opened
// until Lock.
func NewMutex(path string) *Mutex {
	return &Mutex{path: path, sem: make(chan struct{}, 1)}
}

// Lock blocks until the lock is held or ctx ends.
func (m *Mutex) Lock(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	t := time.NewTicker(lockRetry)
	defer t.Stop()
	for {
		f, err := tryLock(m.path)
		if err == nil {
			m.f = f
			return nil
		}
		if !errors.Is(err, errLocked) {
			<-m.sem
			return err
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			<-m.sem
			return ctx.Err()
		}
	}
}

// Unlock releases the lock. Unlocking an unlocked mutex is an error.
func (m *Mutex) Unlock() error {
	if m.f == nil {
		return errors.New("fmo: unlock of unlocked mutex")
	}
	err := unlock(m.f, m.path)
	m.f = nil
	<-m.sem
	return err
}
