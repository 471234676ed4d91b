package metrics

import "time"

// AllocationEvent describes one controller operation.
type AllocationEvent struct {
	Operation   string
	TrainID     string
	ResourceIDs []string
	Success     bool
	Error       string
	Duration    time.Duration
	Time        time.Time
}

// MetricsSink records allocation operations for observability purposes.
type MetricsSink interface {
	RecordAllocation(ev AllocationEvent) error
}

// OccupancyEvent is a snapshot of resource usage after a state change.
type OccupancyEvent struct {
	Free        int
	Occupied    int
	Maintenance int
	Waiting     int
	Time        time.Time
}

// OccupancyRecorder records occupancy snapshots.
type OccupancyRecorder interface {
	RecordOccupancy(ev OccupancyEvent) error
}

// SuggestionEvent captures the lifecycle of a waiting-queue suggestion.
type SuggestionEvent struct {
	SuggestionID string
	TrainID      string
	// Outcome is one of "issued", "expired" or "accepted".
	Outcome string
	Time    time.Time
}

// SuggestionRecorder records suggestion outcomes.
type SuggestionRecorder interface {
	RecordSuggestion(ev SuggestionEvent) error
}

// DwellEvent records how long a train held its resources.
type DwellEvent struct {
	TrainID     string
	ResourceIDs []string
	Dwell       time.Duration
	Time        time.Time
}

// DwellRecorder records dwell times on departure.
type DwellRecorder interface {
	RecordDwell(ev DwellEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordAllocation(AllocationEvent) error { return nil }
func (NopSink) RecordOccupancy(OccupancyEvent) error   { return nil }
func (NopSink) RecordSuggestion(SuggestionEvent) error { return nil }
func (NopSink) RecordDwell(DwellEvent) error           { return nil }
