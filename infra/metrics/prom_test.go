package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/stationctl/core/metrics"
)

func TestPromSink_RecordAllocation(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	if err := sink.RecordAllocation(coremetrics.AllocationEvent{
		Operation: "ASSIGN", TrainID: "12345", ResourceIDs: []string{"P1"}, Success: true, Duration: 3 * time.Millisecond,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	_ = sink.RecordAllocation(coremetrics.AllocationEvent{Operation: "assign", Success: false})

	expected := `
# HELP stationctl_allocation_events_total Allocation operations recorded by the metrics sink
# TYPE stationctl_allocation_events_total counter
stationctl_allocation_events_total{operation="assign",success="false"} 1
stationctl_allocation_events_total{operation="assign",success="true"} 1
`
	if err := testutil.CollectAndCompare(sink.operations, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if c := testutil.CollectAndCount(sink.latency); c != 1 {
		t.Errorf("latency series = %d", c)
	}
}

func TestPromSink_OccupancySuggestionDwell(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	_ = sink.RecordOccupancy(coremetrics.OccupancyEvent{Free: 20, Occupied: 3, Maintenance: 1, Waiting: 2})
	if v := testutil.ToFloat64(sink.occupancy.WithLabelValues("occupied")); v != 3 {
		t.Errorf("occupied = %v", v)
	}
	if v := testutil.ToFloat64(sink.occupancy.WithLabelValues("waiting")); v != 2 {
		t.Errorf("waiting = %v", v)
	}

	_ = sink.RecordSuggestion(coremetrics.SuggestionEvent{Outcome: "issued"})
	_ = sink.RecordSuggestion(coremetrics.SuggestionEvent{Outcome: "issued"})
	_ = sink.RecordSuggestion(coremetrics.SuggestionEvent{Outcome: "expired"})
	if v := testutil.ToFloat64(sink.suggestions.WithLabelValues("issued")); v != 2 {
		t.Errorf("issued = %v", v)
	}

	_ = sink.RecordDwell(coremetrics.DwellEvent{TrainID: "12345", Dwell: 5 * time.Minute})
	_ = sink.RecordDwell(coremetrics.DwellEvent{TrainID: "12346"})
	if c := testutil.CollectAndCount(sink.dwell); c != 1 {
		t.Errorf("dwell series = %d", c)
	}
}

func TestNewPromSinkWithRegistry_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	_ = a.RecordSuggestion(coremetrics.SuggestionEvent{Outcome: "accepted"})
	if v := testutil.ToFloat64(b.suggestions.WithLabelValues("accepted")); v != 1 {
		t.Errorf("collectors not shared: %v", v)
	}
}
