package state

import (
	"context"
	"fmt"
	"sync"
)

// DefaultKey names the stored state in key/value backends.
const DefaultKey = "nanika:state"

// Store loads and saves a CharacterState. Load yields a fresh state when
// nothing usable is stored.
type Store interface {
	Load(ctx context.Context) (*CharacterState, error)
	Save(ctx context.Context, s *CharacterState) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Backend is "file", "redis", "sqlite" or "memory".
	Backend  string
	Path     string
	RedisURL string
	Key      string
}

// Open returns the backend named by opts.Backend.
func Open(opts Options) (Store, error) {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.Path), nil
	case "redis":
		return NewRedisStore(opts.RedisURL, opts.Key)
	case "sqlite":
		return NewSQLiteStore(opts.Path, opts.Key)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("state: unknown backend %q", opts.Backend)
}

// MemoryStore keeps the state in process.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*CharacterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decode(m.data), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *CharacterState) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
