// Package store defines the persistence port for the station state document.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/kilianp07/stationctl/core/model"
)

// ErrNoState is returned by LoadState when nothing has been persisted yet.
var ErrNoState = errors.New("store: no state persisted")

// StateStore persists the single station state document.
type StateStore interface {
	LoadState(ctx context.Context) (*model.StationState, error)
	ReplaceState(ctx context.Context, s *model.StationState) error
	Close() error
}

// MemoryStore keeps the state in memory.
type MemoryStore struct {
	mu    sync.RWMutex
	state *model.StationState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// LoadState returns a copy of the stored state.
func (m *MemoryStore) LoadState(context.Context) (*model.StationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, ErrNoState
	}
	return m.state.Clone(), nil
}

// ReplaceState stores a copy of s.
func (m *MemoryStore) ReplaceState(_ context.Context, s *model.StationState) error {
	m.mu.Lock()
	m.state = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
