// Package fmo publishes a ghost's live state in a fixed-size shared memory
// region that other processes poll. The region starts with its total size as
// a little-endian uint32 followed by NUL-terminated records of the form
// "{key}\x01{value}\r\n".
package fmo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
)

const (
	// DefaultSize is the conventional 64KiB region.
	DefaultSize = 64 << 10
	// HeaderSize is the length of the size prefix.
	HeaderSize = 4
)

var (
	ErrOutOfBounds = errors.New("fmo: access outside region")
	ErrReadOnly    = errors.New("fmo: region is read-only")
	ErrClosed      = errors.New("fmo: region is closed")
)

// Region is a memory-mapped file of fixed size. Every access is bounds-checked.
type Region struct {
	mu       sync.RWMutex
	f        *os.File
	data     []byte
	writable bool
}

// OpenRegion maps the file at path. With create set the file is created or
// truncated to size, zeroed and stamped with its size. Otherwise the file is
// mapped read-only at its current length and size is ignored.
func OpenRegion(path string, size int, create bool) (*Region, error) {
	if create {
		return createRegion(path, size)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < HeaderSize {
		f.Close()
		return nil, fmt.Errorf("fmo: %s is too small (%d bytes)", path, info.Size())
	}
	data, err := mapFile(f, int(info.Size()), false)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fmo: map %s: %w", path, err)
	}
	return &Region{f: f, data: data}, nil
}

func createRegion(path string, size int) (*Region, error) {
	if size <= HeaderSize || int64(size) > int64(^uint32(0)) {
		return nil, fmt.Errorf("fmo: invalid region size %d", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("fmo: size %s: %w", path, err)
	}
	data, err := mapFile(f, size, true)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fmo: map %s: %w", path, err)
	}
	clear(data)
	binary.LittleEndian.PutUint32(data, uint32(size))
	return &Region{f: f, data: data, writable: true}, nil
}

// Size returns the mapped length.
func (r *Region) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// DeclaredSize returns the size stamped in the header.
func (r *Region) DeclaredSize() (int, error) {
	var hdr [HeaderSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(hdr[:])), nil
}

// ReadAt implements io.ReaderAt. Reads must lie entirely inside the region.
func (r *Region) ReadAt(p []byte, off int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return 0, ErrClosed
	}
	if off < 0 || off+int64(len(p)) > int64(len(r.data)) {
		return 0, ErrOutOfBounds
	}
	return copy(p, r.data[off:]), nil
}

// WriteAt implements io.WriterAt. Writes must lie entirely inside the region;
// a write that would not fit changes nothing.
func (r *Region) WriteAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return 0, ErrClosed
	}
	if !r.writable {
		return 0, ErrReadOnly
	}
	if off < 0 || off+int64(len(p)) > int64(len(r.data)) {
		return 0, ErrOutOfBounds
	}
	return copy(r.data[off:], p), nil
}

// Sync flushes written pages to the backing file.
func (r *Region) Sync() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data == nil {
		return ErrClosed
	}
	if !r.writable {
		return nil
	}
	return syncFile(r.f, r.data)
}

// Close unmaps the region and closes the file. It is safe to call twice.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil
	}
	err := unmapFile(r.f, r.data, r.writable)
	r.data = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
