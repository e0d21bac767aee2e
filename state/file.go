package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// FileStore keeps the state as a JSON file replaced atomically on save.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(ctx context.Context) (*CharacterState, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return decode(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", f.path, err)
	}
	return decode(data), nil
}

func (f *FileStore) Save(ctx context.Context, s *CharacterState) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if err := renameio.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("state: write %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
