package fmo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultName is the conventional mailbox file name.
	DefaultName     = "SakuraUnicode"
	DefaultInterval = time.Second
)

// DefaultPath returns the mailbox path: under /dev/shm when it exists, else
// in the temp dir.
func DefaultPath() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return filepath.Join("/dev/shm", DefaultName)
	}
	return filepath.Join(os.TempDir(), DefaultName)
}

// LockPath returns the lock file guarding the mailbox at path.
func LockPath(path string) string {
	return path + ".lock"
}

// State is the display state mirrored into the mailbox.
type State struct {
	Surface int
	Talking bool
}

// StateFunc reports the current display state. It must be safe to call from
// the publisher's goroutine.
type StateFunc func() State

// Options configures a Publisher.
type Options struct {
	Path     string
	Size     int
	Interval time.Duration
	// GhostPath and Name identify the ghost to readers.
	GhostPath string
	Name      string
	State     StateFunc
	Logger    *zap.Logger
}

// Publisher writes the ghost's state into the mailbox.
type Publisher struct {
	id     string
	opts   Options
	region *Region
	lock   *Mutex
	log    *zap.Logger
	now    func() time.Time
}

// NewPublisher creates and initializes the mailbox region.
func NewPublisher(opts Options) (*Publisher, error) {
	if opts.Path == "" {
		opts.Path = DefaultPath()
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.State == nil {
		opts.State = func() State { return State{} }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	region, err := OpenRegion(opts.Path, opts.Size, true)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		id:     strings.ReplaceAll(uuid.New().String(), "-", ""),
		opts:   opts,
		region: region,
		lock:   NewMutex(LockPath(opts.Path)),
		log:    log.Named("fmo"),
		now:    time.Now,
	}, nil
}

// ID is the 32-digit hex identity prefixed to this ghost's records.
func (p *Publisher) ID() string {
	return p.id
}

// Path returns the mailbox file.
func (p *Publisher) Path() string {
	return p.opts.Path
}

func (p *Publisher) records() []Record {
	s := p.opts.State()
	talk := "0"
	if s.Talking {
		talk = "1"
	}
	return []Record{
		{p.id + ".path", p.opts.GhostPath},
		{p.id + ".name", p.opts.Name},
		{p.id + ".surface", strconv.Itoa(s.Surface)},
		{p.id + ".talk", talk},
		{"timestamp", strconv.FormatInt(p.now().Unix(), 10)},
	}
}

// Publish writes one snapshot while holding the mailbox lock.
func (p *Publisher) Publish(ctx context.Context) error {
	data, err := Encode(p.records(), p.region.Size())
	if err != nil {
		writesTotal.WithLabelValues("capacity").Inc()
		return err
	}
	if err := p.lock.Lock(ctx); err != nil {
		writesTotal.WithLabelValues("lock").Inc()
		return fmt.Errorf("fmo: lock: %w", err)
	}
	defer p.lock.Unlock()

	if _, err := p.region.WriteAt(data, HeaderSize); err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := p.region.Sync(); err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return err
	}
	writesTotal.WithLabelValues("ok").Inc()
	return nil
}

// Run publishes immediately and then every interval until ctx ends. Failed
// writes are logged and retried on the next tick.
func (p *Publisher) Run(ctx context.Context) error {
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	p.log.Info("publishing", zap.String("path", p.opts.Path), zap.String("id", p.id))
	for {
		if err := p.Publish(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("publish failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Close unmaps the mailbox. The file stays for readers that still have it open.
func (p *Publisher) Close() error {
	return p.region.Close()
}

// ReadRecords reads the records currently in the mailbox at path without
// taking the lock.
func ReadRecords(path string) ([]Record, error) {
	r, err := OpenRegion(path, 0, false)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	size, err := r.DeclaredSize()
	if err != nil {
		return nil, err
	}
	if size < HeaderSize || size > r.Size() {
		size = r.Size()
	}
	buf := make([]byte, size-HeaderSize)
	if _, err := r.ReadAt(buf, HeaderSize); err != nil {
		return nil, err
	}
	return Decode(buf), nil
}
