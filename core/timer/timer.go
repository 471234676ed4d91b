// Package timer provides one-shot, cancelable timers keyed by an id. Arming
// an id that already has a timer replaces it. A timer that was cancelled or
// replaced never invokes the handler, even when its callback already started.
package timer

import (
	"sync"
	"time"
)

// Handler receives the payload of a fired timer.
type Handler[T any] func(id string, payload T)

type entry struct {
	t   *time.Timer
	gen uint64
}

// Service manages timers for payloads of type T.
type Service[T any] struct {
	mu      sync.Mutex
	entries map[string]entry
	gen     uint64
	handler Handler[T]
	stopped bool
}

// New creates a Service calling handler from the timer goroutine on expiry.
func New[T any](handler Handler[T]) *Service[T] {
	return &Service[T]{entries: make(map[string]entry), handler: handler}
}

// Arm schedules payload for id after delay, cancelling any earlier timer
// for the same id. Non-positive delays are ignored.
func (s *Service[T]) Arm(id string, delay time.Duration, payload T) {
	if delay <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.entries[id]; ok {
		old.t.Stop()
	}
	s.gen++
	gen := s.gen
	s.entries[id] = entry{gen: gen, t: time.AfterFunc(delay, func() { s.fire(id, gen, payload) })}
}

// Cancel stops the timer for id. It reports whether a timer was pending and
// is safe to call for unknown ids.
func (s *Service[T]) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.t.Stop()
	delete(s.entries, id)
	return true
}

// Pending returns the number of armed timers.
func (s *Service[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every timer. Later calls to Arm are ignored.
func (s *Service[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.t.Stop()
		delete(s.entries, id)
	}
	s.stopped = true
}

func (s *Service[T]) fire(id string, gen uint64, payload T) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	s.mu.Unlock()
	if s.handler != nil {
		s.handler(id, payload)
	}
}
