// Package allocation owns the station state document. The Controller is the
// only component allowed to mutate it: every operation validates against a
// copy, persists the copy and swaps it in under a single lock. Departure
// alerts and waiting-queue suggestions are driven from here as well.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/events"
	"github.com/kilianp07/stationctl/core/logger"
	"github.com/kilianp07/stationctl/core/metrics"
	"github.com/kilianp07/stationctl/core/model"
	"github.com/kilianp07/stationctl/core/monitoring"
	"github.com/kilianp07/stationctl/core/scoring"
	"github.com/kilianp07/stationctl/core/store"
	"github.com/kilianp07/stationctl/core/timer"
	"github.com/kilianp07/stationctl/core/trains"
)

const tracerName = "github.com/kilianp07/stationctl/core/allocation"

// Defaults applied by NewController.
const (
	DefaultSuggestionTTL = 2 * time.Minute
	DefaultTopK          = 1
)

// dwellTime is the departure alert delay for a placed train.
var dwellTime = func(t model.Train) time.Duration {
	return model.DwellTime(t.ScheduledArrival, t.ScheduledDeparture)
}

// expiredRetention bounds how long an expired suggestion id is remembered.
const expiredRetention = 24 * time.Hour

// Deps are the collaborators of a Controller. Engine and Store are required.
type Deps struct {
	Engine *scoring.Engine
	Store  store.StateStore
	Trains trains.Directory
	Sink   events.Sink
	Logger logger.Logger
	Audit  audit.Store
}

// Config tunes the controller.
type Config struct {
	// SuggestionTTL is how long a waiting-queue suggestion stays valid.
	SuggestionTTL time.Duration
	// TopK is the number of queue entries evaluated per Check.
	TopK int
	// RearmOnStart re-arms departure alerts for trains found on resources
	// when the state is loaded.
	RearmOnStart bool
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Snapshot is a consistent copy of the station state.
type Snapshot struct {
	Resources   []model.Resource     `json:"resources"`
	Waiting     []model.WaitingEntry `json:"waiting"`
	Roster      []model.RosterEntry  `json:"roster"`
	Suggestions []events.Suggestion  `json:"suggestions"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Controller serializes every mutation of the station state.
type Controller struct {
	mu           sync.Mutex
	state        *model.StationState
	suggestions  map[string]*events.Suggestion
	expired      map[string]time.Time
	lastEnqueued time.Time

	engine  *scoring.Engine
	store   store.StateStore
	trains  trains.Directory
	sink    events.Sink
	log     logger.Logger
	audit   audit.Store
	metrics metrics.MetricsSink
	cfg     Config
	tracer  trace.Tracer

	alerts *timer.Service[events.DepartureAlert]
	expiry *timer.Service[string]
	wg     sync.WaitGroup
}

// NewController loads the persisted state or, when nothing was stored yet,
// initializes an all-free station from the engine layout with the roster
// seeded from the train master.
func NewController(ctx context.Context, deps Deps, cfg Config) (*Controller, error) {
	if deps.Engine == nil || deps.Store == nil {
		return nil, fmt.Errorf("allocation: nil engine or store provided to NewController")
	}
	if cfg.SuggestionTTL <= 0 {
		cfg.SuggestionTTL = DefaultSuggestionTTL
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if deps.Trains == nil {
		deps.Trains = trains.NewMemoryDirectory()
	}
	if deps.Sink == nil {
		deps.Sink = events.NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop{}
	}
	c := &Controller{
		suggestions: make(map[string]*events.Suggestion),
		expired:     make(map[string]time.Time),
		engine:      deps.Engine,
		store:       deps.Store,
		trains:      deps.Trains,
		sink:        deps.Sink,
		log:         deps.Logger,
		audit:       audit.NopStore{},
		metrics:     metrics.NopSink{},
		cfg:         cfg,
		tracer:      otel.Tracer(tracerName),
	}
	if deps.Audit != nil {
		c.audit = deps.Audit
	}
	c.alerts = timer.New(c.onDepartureAlert)
	c.expiry = timer.New(c.onSuggestionExpired)
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SetAudit configures the operations log.
func (c *Controller) SetAudit(s audit.Store) {
	if s == nil {
		return
	}
	c.mu.Lock()
	c.audit = s
	c.mu.Unlock()
}

// SetMetrics configures the metrics sink.
func (c *Controller) SetMetrics(s metrics.MetricsSink) {
	if s == nil {
		return
	}
	c.mu.Lock()
	c.metrics = s
	c.mu.Unlock()
}

// Engine returns the scoring engine used by the controller.
func (c *Controller) Engine() *scoring.Engine { return c.engine }

// Close stops every timer and waits for pending audit writes.
func (c *Controller) Close() error {
	c.alerts.Stop()
	c.expiry.Stop()
	c.wg.Wait()
	return nil
}

func (c *Controller) load(ctx context.Context) error {
	st, err := c.store.LoadState(ctx)
	switch {
	case errors.Is(err, store.ErrNoState):
		st = c.engine.Layout().InitialState()
		ts, lerr := c.trains.ListTrains(ctx)
		if lerr != nil {
			c.log.Warnf("train master unavailable, starting with an empty roster: %v", lerr)
		}
		st.Roster = RosterFromTrains(ts)
		st.SortRoster()
		st.UpdatedAt = c.now()
		if err := c.store.ReplaceState(ctx, st); err != nil {
			return fmt.Errorf("allocation: persist initial state: %w", err)
		}
		c.state = st
		c.appendAudit(audit.Record{Timestamp: c.now(), Action: audit.ActionInit, Message: "station state initialized"})
		c.log.Infof("initialized station with %d resources and %d rostered trains", len(st.Resources), len(st.Roster))
		return nil
	case err != nil:
		return fmt.Errorf("allocation: load state: %w", err)
	}
	c.state = c.reconcile(st)
	for _, w := range c.state.Waiting {
		if w.EnqueuedAt.After(c.lastEnqueued) {
			c.lastEnqueued = w.EnqueuedAt
		}
	}
	if c.cfg.RearmOnStart {
		c.rearm(ctx)
	}
	c.log.Infof("loaded station state updated at %s", c.state.UpdatedAt.Format(time.RFC3339))
	return nil
}

// reconcile adds layout resources missing from a stored state.
func (c *Controller) reconcile(st *model.StationState) *model.StationState {
	l := c.engine.Layout()
	for _, r := range l.InitialState().Resources {
		if st.Resource(r.ID) == nil {
			st.Resources = append(st.Resources, r)
			c.log.Warnf("resource %s missing from stored state, added as free", r.ID)
		}
	}
	return st
}

// rearm schedules alerts for the remaining dwell of trains already placed.
func (c *Controller) rearm(ctx context.Context) {
	now := c.now()
	for _, r := range c.state.Resources {
		if r.State != model.StateOccupied || r.Occupant == nil || !r.Occupant.IsPrimary {
			continue
		}
		t, ok := c.lookupTrain(ctx, r.Occupant.TrainID)
		if !ok {
			continue
		}
		dwell := dwellTime(t)
		remaining := r.Occupant.AssignedAt.Add(dwell).Sub(now)
		if dwell > 0 && remaining > 0 {
			c.alerts.Arm(r.ID, remaining, departureAlert(r.Occupant, r.ID))
		}
	}
}

// CurrentState returns a deep copy of the state and the pending suggestions.
func (c *Controller) CurrentState() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state.Clone()
	return Snapshot{
		Resources:   st.Resources,
		Waiting:     st.Waiting,
		Roster:      st.Roster,
		Suggestions: c.pendingSuggestionsLocked(),
		UpdatedAt:   st.UpdatedAt,
	}
}

func (c *Controller) now() time.Time { return c.cfg.Clock() }

// lookupTrain resolves master data. Unknown trains and directory failures
// both report false so callers can fall back to roster data.
func (c *Controller) lookupTrain(ctx context.Context, id string) (model.Train, bool) {
	t, err := c.trains.GetTrain(ctx, id)
	if err != nil {
		if !errors.Is(err, trains.ErrUnknownTrain) {
			c.log.Warnf("train master lookup for %s failed: %v", id, err)
		}
		return model.Train{}, false
	}
	return t, true
}

// commit persists next and swaps it in. Callers hold c.mu.
func (c *Controller) commit(ctx context.Context, op string, next *model.StationState) error {
	next.UpdatedAt = c.now()
	if err := c.store.ReplaceState(ctx, next); err != nil {
		monitoring.CaptureException(err, map[string]string{"operation": op})
		c.log.Errorf("%s: persist station state: %v", op, err)
		return unavailable(op, "persist station state", err)
	}
	c.state = next
	return nil
}

// effects collects side effects produced under the lock and fired after it
// is released.
type effects struct {
	events []events.Envelope
	audit  []audit.Record
	freed  []string
	check  bool
	dwell  *metrics.DwellEvent

	outcomes []metrics.SuggestionEvent
}

func (fx *effects) publish(eventType string, payload any) {
	fx.events = append(fx.events, events.Envelope{Type: eventType, Payload: payload})
}

// flush fires side effects. It must be called without holding c.mu.
func (c *Controller) flush(ctx context.Context, fx *effects) {
	for _, ev := range fx.events {
		c.sink.Publish(ev.Type, ev.Payload)
	}
	for _, rec := range fx.audit {
		c.appendAudit(rec)
	}
	if len(fx.events) > 0 || len(fx.audit) > 0 {
		c.recordOccupancy()
	}
	for _, o := range fx.outcomes {
		c.recordSuggestion(o.SuggestionID, o.TrainID, o.Outcome)
	}
	if fx.dwell != nil {
		c.mu.Lock()
		sink := c.metrics
		c.mu.Unlock()
		if rec, ok := sink.(metrics.DwellRecorder); ok {
			if err := rec.RecordDwell(*fx.dwell); err != nil {
				c.log.Errorf("dwell metrics error: %v", err)
			}
		}
	}
	if fx.check {
		if _, err := c.Check(ctx, fx.freed); err != nil {
			c.log.Warnf("waiting queue check failed: %v", err)
		}
	}
}

// appendAudit writes the record in the background.
func (c *Controller) appendAudit(rec audit.Record) {
	c.mu.Lock()
	st := c.audit
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer monitoring.Recover()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Append(ctx, rec); err != nil {
			c.log.Errorf("audit append %s failed: %v", rec.Action, err)
		}
	}()
}

func (c *Controller) recordOccupancy() {
	c.mu.Lock()
	free, occupied, maintenance := c.state.Counts()
	waiting := len(c.state.Waiting)
	sink := c.metrics
	c.mu.Unlock()
	resourcesGauge.WithLabelValues(string(model.StateFree)).Set(float64(free))
	resourcesGauge.WithLabelValues(string(model.StateOccupied)).Set(float64(occupied))
	resourcesGauge.WithLabelValues(string(model.StateMaintenance)).Set(float64(maintenance))
	waitingGauge.Set(float64(waiting))
	if rec, ok := sink.(metrics.OccupancyRecorder); ok {
		if err := rec.RecordOccupancy(metrics.OccupancyEvent{
			Free: free, Occupied: occupied, Maintenance: maintenance, Waiting: waiting, Time: c.now(),
		}); err != nil {
			c.log.Errorf("occupancy metrics error: %v", err)
		}
	}
}

// startSpan opens a span for a controller operation.
func (c *Controller) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "allocation."+op, trace.WithAttributes(attrs...))
}

// finish records the outcome of an operation on the span, the collectors
// and the metrics sink.
func (c *Controller) finish(span trace.Span, op, trainID string, ids []string, start time.Time, err error) {
	outcome := outcomeLabel(err)
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	c.mu.Lock()
	sink := c.metrics
	c.mu.Unlock()
	ev := metrics.AllocationEvent{
		Operation:   op,
		TrainID:     trainID,
		ResourceIDs: ids,
		Success:     err == nil,
		Duration:    time.Since(start),
		Time:        c.now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if merr := sink.RecordAllocation(ev); merr != nil {
		c.log.Errorf("metrics error: %v", merr)
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "unavailable"
	}
}

// RosterFromTrains builds roster entries from master records.
func RosterFromTrains(ts []model.Train) []model.RosterEntry {
	out := make([]model.RosterEntry, 0, len(ts))
	for _, t := range ts {
		out = append(out, rosterEntry(t))
	}
	return out
}

func rosterEntry(t model.Train) model.RosterEntry {
	return model.RosterEntry{
		TrainID:            t.ID,
		Name:               t.Name,
		ScheduledArrival:   t.ScheduledArrival,
		ScheduledDeparture: t.ScheduledDeparture,
	}
}

func departureAlert(a *model.Assignment, resourceID string) events.DepartureAlert {
	return events.DepartureAlert{TrainNumber: a.TrainID, TrainName: a.TrainName, PlatformID: resourceID}
}

func (c *Controller) onDepartureAlert(resourceID string, alert events.DepartureAlert) {
	defer monitoring.Recover()
	departureAlerts.Inc()
	c.log.Infow("departure alert", map[string]any{
		"train_id": alert.TrainNumber,
		"resource": resourceID,
	})
	c.sink.Publish(events.TypeDepartureAlert, alert)
}
