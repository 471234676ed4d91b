package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/blockage"
	"github.com/kilianp07/stationctl/core/events"
	"github.com/kilianp07/stationctl/core/layout"
	"github.com/kilianp07/stationctl/core/model"
	"github.com/kilianp07/stationctl/core/scoring"
	"github.com/kilianp07/stationctl/core/store"
	"github.com/kilianp07/stationctl/core/trains"
)

const testLine = "KGP-HWH"

func fixtureTrains() []model.Train {
	return []model.Train{
		{ID: "12345", Name: "Howrah Express", Type: model.TrainPassenger, Length: model.LengthShort,
			Direction: model.DirectionUp, HistoricalResource: "1", ScheduledArrival: "10:00", ScheduledDeparture: "10:05"},
		{ID: "12346", Name: "Puri Express", Type: model.TrainPassenger, Length: model.LengthShort,
			Direction: model.DirectionUp, ScheduledArrival: "10:10", ScheduledDeparture: "10:20"},
		{ID: "99901", Name: "Coromandel", Type: model.TrainPassenger, Length: model.LengthLong,
			Direction: model.DirectionUp, ScheduledArrival: "11:00", ScheduledDeparture: "11:10"},
		{ID: "55501", Name: "Goods 1", Type: model.TrainFreight, Length: model.LengthOther,
			Direction: model.DirectionDown},
	}
}

// smallLayout has two short platforms, one pair and one long single.
func smallLayout() layout.Layout {
	return layout.Layout{
		Platforms:   []string{"P1", "P2", "P3", "P5"},
		Tracks:      []string{"T1"},
		Pairs:       []layout.Pair{{A: "P1", B: "P3"}},
		LongSingles: []string{"P5"},
		NonPlatform: map[model.Direction][]string{model.DirectionDown: {"T1"}},
		TieBreak: map[model.Direction][]string{
			model.DirectionUp:   {"P1-3", "P5"},
			model.DirectionDown: {"P5", "P1-3"},
		},
	}
}

func testMatrix() *blockage.Matrix {
	m := blockage.New()
	for _, g := range []string{"P1-3", "P2-4", "P5", "P6", "P7", "P8"} {
		m.Set(testLine, g, []blockage.Route{{Full: []string{"X"}}})
	}
	return m
}

type fixture struct {
	c      *Controller
	store  *flakyStore
	trains *trains.MemoryDirectory
	rec    *events.Recorder
	audit  *memAudit
}

type option func(*Deps, *Config)

func withLayout(l layout.Layout) option {
	return func(d *Deps, _ *Config) { d.Engine = scoring.NewEngine(l, testMatrix(), nil) }
}

func withTTL(ttl time.Duration) option {
	return func(_ *Deps, c *Config) { c.SuggestionTTL = ttl }
}

func withTopK(k int) option {
	return func(_ *Deps, c *Config) { c.TopK = k }
}

func withClock(now func() time.Time) option {
	return func(_ *Deps, c *Config) { c.Clock = now }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	f := &fixture{
		store:  &flakyStore{MemoryStore: store.NewMemoryStore()},
		trains: trains.NewMemoryDirectory(fixtureTrains()...),
		rec:    events.NewRecorder(64),
		audit:  &memAudit{},
	}
	deps := Deps{
		Engine: scoring.NewEngine(layout.Default(), testMatrix(), nil),
		Store:  f.store,
		Trains: f.trains,
		Sink:   f.rec,
		Audit:  f.audit,
	}
	cfg := Config{SuggestionTTL: time.Minute}
	for _, o := range opts {
		o(&deps, &cfg)
	}
	c, err := NewController(context.Background(), deps, cfg)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	f.c = c
	return f
}

// occupy assigns trains in the roster to resources, failing the test on error.
func (f *fixture) occupy(t *testing.T, trainID string, ids ...string) {
	t.Helper()
	if _, err := f.c.Assign(context.Background(), AssignRequest{TrainID: trainID, ResourceIDs: ids}); err != nil {
		t.Fatalf("assign %s: %v", trainID, err)
	}
}

func (f *fixture) addRostered(t *testing.T, ts ...model.Train) {
	t.Helper()
	for _, tr := range ts {
		if err := f.c.AddTrain(context.Background(), tr); err != nil {
			t.Fatalf("add train %s: %v", tr.ID, err)
		}
	}
}

func (f *fixture) resource(id string) model.Resource {
	for _, r := range f.c.CurrentState().Resources {
		if r.ID == id {
			return r
		}
	}
	return model.Resource{}
}

// waitEvent returns the first event of the given type published within d.
func waitEvent(rec *events.Recorder, eventType string, d time.Duration) (events.Envelope, bool) {
	deadline := time.After(d)
	for {
		select {
		case ev := <-rec.Events():
			if ev.Type == eventType {
				return ev, true
			}
		case <-deadline:
			return events.Envelope{}, false
		}
	}
}

func short(id string) model.Train {
	return model.Train{ID: id, Name: "Local " + id, Type: model.TrainPassenger, Length: model.LengthShort, Direction: model.DirectionUp}
}

func long(id string) model.Train {
	tr := short(id)
	tr.Length = model.LengthLong
	return tr
}

var errWriteFailed = errors.New("disk full")

// flakyStore fails writes while failing is set.
type flakyStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	failing bool
	writes  int
}

func (s *flakyStore) ReplaceState(ctx context.Context, st *model.StationState) error {
	s.mu.Lock()
	fail := s.failing
	if !fail {
		s.writes++
	}
	s.mu.Unlock()
	if fail {
		return errWriteFailed
	}
	return s.MemoryStore.ReplaceState(ctx, st)
}

func (s *flakyStore) setFailing(v bool) {
	s.mu.Lock()
	s.failing = v
	s.mu.Unlock()
}

type memAudit struct {
	mu   sync.Mutex
	recs []audit.Record
}

func (m *memAudit) Append(_ context.Context, r audit.Record) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memAudit) Query(context.Context, audit.Query) ([]audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.recs...), nil
}

func (m *memAudit) Close() error { return nil }

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r.Action)
	}
	return out
}
