package fmo

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegionCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 100)), 0o600))

	r, err := OpenRegion(path, 1024, true)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 1024, r.Size())
	size, err := r.DeclaredSize()
	require.NoError(t, err)
	assert.Equal(t, 1024, size)

	buf := make([]byte, 96)
	_, err = r.ReadAt(buf, HeaderSize)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 96), buf, "creation zeroes old content")

	require.NoError(t, r.Sync())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, raw, 1024)
	assert.Equal(t, uint32(1024), binary.LittleEndian.Uint32(raw))
}

func TestRegionBounds(t *testing.T) {
	r, err := OpenRegion(filepath.Join(t.TempDir(), "mailbox"), 64, true)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.WriteAt(make([]byte, 61), HeaderSize)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = r.WriteAt([]byte("x"), -1)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = r.ReadAt(make([]byte, 1), 64)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	n, err := r.WriteAt(make([]byte, 60), HeaderSize)
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegionInvalid(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenRegion(filepath.Join(dir, "a"), 2, true)
	assert.Error(t, err)
	_, err = OpenRegion(filepath.Join(dir, "missing"), 0, false)
	assert.ErrorIs(t, err, os.ErrNotExist)

	tiny := filepath.Join(dir, "tiny")
	require.NoError(t, os.WriteFile(tiny, []byte{1}, 0o600))
	_, err = OpenRegion(tiny, 0, false)
	assert.Error(t, err)
}

func TestReadOnlyRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox")
	w, err := OpenRegion(path, 128, true)
	require.NoError(t, err)
	defer w.Close()

	r, err := OpenRegion(path, 0, false)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.WriteAt([]byte("x"), HeaderSize)
	assert.ErrorIs(t, err, ErrReadOnly)

	_, err = w.WriteAt([]byte("live"), HeaderSize)
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	buf := make([]byte, 4)
	_, err = r.ReadAt(buf, HeaderSize)
	require.NoError(t, err)
	assert.Equal(t, "live", string(buf))
}

func TestEncodeDecode(t *testing.T) {
	records := []Record{
		{"abc.path", "/ghosts/nanika"},
		{"abc.surface", "10"},
		{"timestamp", "1700000000"},
	}
	data, err := Encode(records, 1024)
	require.NoError(t, err)
	assert.Equal(t, "abc.path\x01/ghosts/nanika\r\nabc.surface\x0110\r\ntimestamp\x011700000000\r\n\x00", string(data))

	padded := append(append([]byte{}, data...), "junk\x01after\r\n"...)
	assert.Equal(t, records, Decode(padded))

	v, ok := Lookup(records, "abc.surface")
	assert.True(t, ok)
	assert.Equal(t, "10", v)
	_, ok = Lookup(records, "nope")
	assert.False(t, ok)
}

func TestEncodeCapacity(t *testing.T) {
	records := []Record{{"k", strings.Repeat("v", 10)}}
	data, err := Encode(records, HeaderSize+len("k\x01vvvvvvvvvv\r\n\x00"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = Encode(records, HeaderSize+len("k\x01vvvvvvvvvv\r\n"))
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestEncodeRejectsSeparators(t *testing.T) {
	_, err := Encode([]Record{{"a\x01b", "v"}}, 1024)
	assert.Error(t, err)
	_, err = Encode([]Record{{"k", "line\r\nbreak"}}, 1024)
	assert.Error(t, err)
	_, err = Encode([]Record{{"", "v"}}, 1024)
	assert.Error(t, err)
}

func TestDecodeTornWrite(t *testing.T) {
	got := Decode([]byte("a\x011\r\nb\x01" + "2\r\nhalf-written"))
	assert.Equal(t, []Record{{"a", "1"}, {"b", "2"}}, got)
	assert.Empty(t, Decode(make([]byte, 16)))
}

func TestMutexExcludes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.lock")
	a, b := NewMutex(path), NewMutex(path)
	ctx := context.Background()

	require.NoError(t, a.Lock(ctx))

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Lock(short), context.DeadlineExceeded)

	got := make(chan error, 1)
	go func() { got <- b.Lock(ctx) }()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, a.Unlock())
	require.NoError(t, <-got)
	require.NoError(t, b.Unlock())

	assert.Error(t, a.Unlock())
}

func TestMutexSameInstance(t *testing.T) {
	m := NewMutex(filepath.Join(t.TempDir(), "lock"))
	require.NoError(t, m.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Lock(ctx), context.DeadlineExceeded)
	require.NoError(t, m.Unlock())
	require.NoError(t, m.Lock(context.Background()))
	require.NoError(t, m.Unlock())
}

func TestPublisher(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultName)
	var surface atomic.Int32
	surface.Store(5)
	p, err := NewPublisher(Options{
		Path:      path,
		Size:      4096,
		GhostPath: "/ghosts/nanika",
		Name:      "Nanika",
		State: func() State {
			return State{Surface: int(surface.Load()), Talking: true}
		},
	})
	require.NoError(t, err)
	defer p.Close()
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	assert.Len(t, p.ID(), 32)
	assert.Equal(t, strings.ToLower(p.ID()), p.ID())

	require.NoError(t, p.Publish(context.Background()))
	records, err := ReadRecords(path)
	require.NoError(t, err)

	id := p.ID()
	assert.Equal(t, []Record{
		{id + ".path", "/ghosts/nanika"},
		{id + ".name", "Nanika"},
		{id + ".surface", "5"},
		{id + ".talk", "1"},
		{"timestamp", "1700000000"},
	}, records)

	surface.Store(10)
	require.NoError(t, p.Publish(context.Background()))
	records, err = ReadRecords(path)
	require.NoError(t, err)
	v, _ := Lookup(records, id+".surface")
	assert.Equal(t, "10", v)
}

func TestPublisherTooSmall(t *testing.T) {
	p, err := NewPublisher(Options{Path: filepath.Join(t.TempDir(), "m"), Size: 32, GhostPath: "/a/very/long/ghost/path"})
	require.NoError(t, err)
	defer p.Close()
	assert.ErrorIs(t, p.Publish(context.Background()), ErrCapacity)
}

func TestPublisherRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultName)
	var calls atomic.Int32
	p, err := NewPublisher(Options{
		Path:     path,
		Size:     1024,
		Interval: 20 * time.Millisecond,
		State: func() State {
			calls.Add(1)
			return State{}
		},
	})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	records, err := ReadRecords(path)
	require.NoError(t, err)
	_, ok := Lookup(records, p.ID()+".talk")
	assert.True(t, ok)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, DefaultName, filepath.Base(DefaultPath()))
	assert.Equal(t, "/x/y.lock", LockPath("/x/y"))
}
