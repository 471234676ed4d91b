// Package monitoring is the error reporting port. Adapters install a Monitor
// with Init; until then every call is a no-op.
package monitoring

import (
	"sync"
	"time"
)

// Monitor reports errors and panics to an external tracker.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any)
	Flush(timeout time.Duration)
}

// NopMonitor drops everything.
type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any)                          {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

func active() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Init installs m as the process monitor. A nil m is ignored.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

// CaptureException records err with tags. Nil errors are ignored.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	active().CaptureException(err, tags)
}

// Recover must be deferred directly; it reports a panic and swallows it.
func Recover() {
	if v := recover(); v != nil {
		active().CapturePanic(v)
	}
}

// Go runs fn in a goroutine that reports panics and errors tagged with
// module.
func Go(module string, fn func() error) {
	go func() {
		defer Recover()
		if err := fn(); err != nil {
			CaptureException(err, map[string]string{"module": module})
		}
	}()
}

// Flush waits up to d for buffered events to be sent.
func Flush(d time.Duration) {
	active().Flush(d)
}
