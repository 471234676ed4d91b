// Package mastersync periodically reloads the train master and adds new
// trains to the arriving roster.
package mastersync

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/stationctl/core/logger"
	coremon "github.com/kilianp07/stationctl/core/monitoring"
)

// Reloader re-reads the master source.
type Reloader interface {
	Reload(ctx context.Context) (int, error)
}

// RosterSyncer adds master trains missing from the roster.
type RosterSyncer interface {
	SyncFromMaster(ctx context.Context) (int, error)
}

var runs = register(prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "stationctl_master_sync_total",
	Help: "Train master synchronisations by result",
}, []string{"result"}))

var lastSync = register(prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "stationctl_master_sync_timestamp_seconds",
	Help: "Unix time of the last successful train master synchronisation",
}))

func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Job runs the synchronisation loop.
type Job struct {
	source   Reloader
	roster   RosterSyncer
	interval time.Duration
	log      logger.Logger
}

// New creates a Job. source may be nil when the master never changes
// outside the service; the roster is then synced from the served master only.
func New(source Reloader, roster RosterSyncer, interval time.Duration, log logger.Logger) *Job {
	if log == nil {
		log = logger.Nop{}
	}
	return &Job{source: source, roster: roster, interval: interval, log: log}
}

// Run syncs every interval until ctx is done.
func (j *Job) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := j.Once(ctx); err != nil && ctx.Err() == nil {
				j.log.Errorf("master sync: %v", err)
				coremon.CaptureException(err, map[string]string{"module": "mastersync"})
			}
		case <-ctx.Done():
			return
		}
	}
}

// Once reloads the source and syncs the roster, returning the number of
// trains added.
func (j *Job) Once(ctx context.Context) (int, error) {
	if j.source != nil {
		if _, err := j.source.Reload(ctx); err != nil {
			runs.WithLabelValues("reload_error").Inc()
			return 0, err
		}
	}
	added, err := j.roster.SyncFromMaster(ctx)
	if err != nil {
		runs.WithLabelValues("sync_error").Inc()
		return 0, err
	}
	runs.WithLabelValues("ok").Inc()
	lastSync.SetToCurrentTime()
	if added > 0 {
		j.log.Infow("roster synced from master", map[string]any{"added": added})
	}
	return added, nil
}
