package metrics

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAllocation forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordAllocation(ev AllocationEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAllocation(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordOccupancy forwards occupancy snapshots when supported by the sink.
func (m *MultiSink) RecordOccupancy(ev OccupancyEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(OccupancyRecorder); ok {
			if err := rec.RecordOccupancy(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSuggestion forwards suggestion outcomes when supported by the sink.
func (m *MultiSink) RecordSuggestion(ev SuggestionEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SuggestionRecorder); ok {
			if err := rec.RecordSuggestion(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordDwell forwards dwell times when supported by the sink.
func (m *MultiSink) RecordDwell(ev DwellEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(DwellRecorder); ok {
			if err := rec.RecordDwell(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes every sink holding a client connection.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
