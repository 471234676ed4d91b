package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/stationctl/core/metrics"
)

// PromSink records allocation events in Prometheus metrics.
type PromSink struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	occupancy   *prometheus.GaugeVec
	suggestions *prometheus.CounterVec
	dwell       prometheus.Histogram
}

// NewPromSink registers allocation metrics on the default Prometheus registerer.
// The Prometheus server is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered under the same name are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stationctl_allocation_events_total",
		Help: "Allocation operations recorded by the metrics sink",
	}, []string{"operation", "success"})
	lat := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stationctl_allocation_latency_seconds",
		Help:    "Latency of allocation operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	occ := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stationctl_occupancy",
		Help: "Resources per state and trains waiting",
	}, []string{"state"})
	sug := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stationctl_suggestions_total",
		Help: "Waiting-queue suggestions by outcome",
	}, []string{"outcome"})
	dwell := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stationctl_dwell_seconds",
		Help:    "Time trains held their resources before departure",
		Buckets: []float64{60, 120, 300, 600, 900, 1800, 3600, 7200},
	})

	var err error
	if ops, err = register(reg, ops); err != nil {
		return nil, err
	}
	if lat, err = register(reg, lat); err != nil {
		return nil, err
	}
	if occ, err = register(reg, occ); err != nil {
		return nil, err
	}
	if sug, err = register(reg, sug); err != nil {
		return nil, err
	}
	if dwell, err = register(reg, dwell); err != nil {
		return nil, err
	}
	return &PromSink{operations: ops, latency: lat, occupancy: occ, suggestions: sug, dwell: dwell}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordAllocation counts the operation and observes its latency.
func (s *PromSink) RecordAllocation(ev coremetrics.AllocationEvent) error {
	op := strings.ToLower(ev.Operation)
	s.operations.WithLabelValues(op, strconv.FormatBool(ev.Success)).Inc()
	s.latency.WithLabelValues(op).Observe(ev.Duration.Seconds())
	return nil
}

// RecordOccupancy sets the occupancy gauges.
func (s *PromSink) RecordOccupancy(ev coremetrics.OccupancyEvent) error {
	s.occupancy.WithLabelValues("free").Set(float64(ev.Free))
	s.occupancy.WithLabelValues("occupied").Set(float64(ev.Occupied))
	s.occupancy.WithLabelValues("maintenance").Set(float64(ev.Maintenance))
	s.occupancy.WithLabelValues("waiting").Set(float64(ev.Waiting))
	return nil
}

// RecordSuggestion increments the counter for the suggestion outcome.
func (s *PromSink) RecordSuggestion(ev coremetrics.SuggestionEvent) error {
	s.suggestions.WithLabelValues(ev.Outcome).Inc()
	return nil
}

// RecordDwell observes the dwell time of a departed train.
func (s *PromSink) RecordDwell(ev coremetrics.DwellEvent) error {
	if ev.Dwell > 0 {
		s.dwell.Observe(ev.Dwell.Seconds())
	}
	return nil
}
