package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/stationctl/core/metrics"
)

type lineServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []string
}

func newLineServer(t *testing.T) *lineServer {
	t.Helper()
	ls := &lineServer{}
	ls.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		ls.mu.Lock()
		ls.bodies = append(ls.bodies, strings.TrimSpace(string(data)))
		ls.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ls.Close)
	return ls
}

func (ls *lineServer) last() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if len(ls.bodies) == 0 {
		return ""
	}
	return ls.bodies[len(ls.bodies)-1]
}

func lineProtocol(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordAllocation(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()

	err := sink.RecordAllocation(coremetrics.AllocationEvent{
		Operation: "ASSIGN", TrainID: "99901", ResourceIDs: []string{"P1", "P3"},
		Success: true, Duration: 12 * time.Millisecond, Time: now,
	})
	if err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("allocation_event").
		AddTag("operation", "assign").
		AddTag("success", "true").
		AddTag("train_id", "99901").
		AddField("resources", "P1,P3").
		AddField("latency_ms", int64(12)).
		SetTime(now)
	if got := srv.last(); got != lineProtocol(p) {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestInfluxSink_RecordOccupancyAndDwell(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()

	if err := sink.RecordOccupancy(coremetrics.OccupancyEvent{Free: 21, Occupied: 2, Waiting: 1, Time: now}); err != nil {
		t.Fatalf("occupancy: %v", err)
	}
	occ := write.NewPointWithMeasurement("station_occupancy").
		AddField("free", 21).AddField("occupied", 2).AddField("maintenance", 0).AddField("waiting", 1).
		SetTime(now)
	if got := srv.last(); got != lineProtocol(occ) {
		t.Errorf("unexpected occupancy body: %s", got)
	}

	if err := sink.RecordDwell(coremetrics.DwellEvent{TrainID: "12345", ResourceIDs: []string{"P2"}, Dwell: 90 * time.Second, Time: now}); err != nil {
		t.Fatalf("dwell: %v", err)
	}
	dw := write.NewPointWithMeasurement("train_dwell").
		AddTag("train_id", "12345").AddField("resources", "P2").AddField("dwell_s", 90.0).SetTime(now)
	if got := srv.last(); got != lineProtocol(dw) {
		t.Errorf("unexpected dwell body: %s", got)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
