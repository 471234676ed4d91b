package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kilianp07/stationctl/core/model"
	corestore "github.com/kilianp07/stationctl/core/store"
)

// FileStore keeps the state document in a single JSON file. Writes go to a
// temporary file that is renamed over the target.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store writing to path. The parent directory is
// created when missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("json store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("json store: %w", err)
	}
	return &FileStore{path: path}, nil
}

// LoadState reads and decodes the file.
func (f *FileStore) LoadState(context.Context) (*model.StationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, corestore.ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("json store: read: %w", err)
	}
	var st model.StationState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("json store: decode %s: %w", f.path, err)
	}
	return &st, nil
}

// ReplaceState writes s atomically.
func (f *FileStore) ReplaceState(_ context.Context, s *model.StationState) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("json store: encode: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("json store: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("json store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("json store: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("json store: rename: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
