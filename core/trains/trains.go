// Package trains defines the train master lookup port.
package trains

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kilianp07/stationctl/core/model"
)

// ErrUnknownTrain is returned when the master list has no such train.
var ErrUnknownTrain = errors.New("trains: unknown train")

// Directory resolves train attributes from the master list.
type Directory interface {
	GetTrain(ctx context.Context, id string) (model.Train, error)
	ListTrains(ctx context.Context) ([]model.Train, error)
}

// Writer is implemented by directories accepting new master records.
type Writer interface {
	PutTrain(ctx context.Context, t model.Train) error
	DeleteTrain(ctx context.Context, id string) error
}

// MemoryDirectory is an in-memory Directory.
type MemoryDirectory struct {
	mu     sync.RWMutex
	trains map[string]model.Train
}

// NewMemoryDirectory creates a directory holding the given trains.
func NewMemoryDirectory(ts ...model.Train) *MemoryDirectory {
	d := &MemoryDirectory{trains: make(map[string]model.Train, len(ts))}
	for _, t := range ts {
		d.trains[t.ID] = t
	}
	return d
}

// GetTrain returns the train or ErrUnknownTrain.
func (d *MemoryDirectory) GetTrain(_ context.Context, id string) (model.Train, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.trains[id]
	if !ok {
		return model.Train{}, ErrUnknownTrain
	}
	return t, nil
}

// ListTrains returns all trains sorted by id.
func (d *MemoryDirectory) ListTrains(context.Context) ([]model.Train, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Train, 0, len(d.trains))
	for _, t := range d.trains {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutTrain validates and stores t.
func (d *MemoryDirectory) PutTrain(_ context.Context, t model.Train) error {
	if err := t.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.trains[t.ID] = t
	d.mu.Unlock()
	return nil
}

// DeleteTrain removes the train.
func (d *MemoryDirectory) DeleteTrain(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.trains[id]; !ok {
		return ErrUnknownTrain
	}
	delete(d.trains, id)
	return nil
}
