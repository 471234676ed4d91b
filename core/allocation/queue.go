package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/events"
	"github.com/kilianp07/stationctl/core/model"
	"github.com/kilianp07/stationctl/core/trains"
)

// EnqueueRequest moves a rostered train into the waiting queue.
type EnqueueRequest struct {
	TrainID       string `json:"train_id"`
	ActualArrival string `json:"actual_arrival,omitempty"`
	IncomingLine  string `json:"incoming_line,omitempty"`
}

// Enqueue appends a rostered train to the waiting queue. The roster entry is
// kept.
func (c *Controller) Enqueue(ctx context.Context, req EnqueueRequest) (model.WaitingEntry, error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpEnqueue, attribute.String("train_id", req.TrainID))
	entry, fx, err := c.enqueue(ctx, req)
	c.finish(span, OpEnqueue, req.TrainID, nil, start, err)
	if err != nil {
		return model.WaitingEntry{}, err
	}
	c.flush(ctx, fx)
	return entry, nil
}

func (c *Controller) enqueue(ctx context.Context, req EnqueueRequest) (model.WaitingEntry, *effects, error) {
	trainID := strings.TrimSpace(req.TrainID)
	if trainID == "" {
		return model.WaitingEntry{}, nil, invalid(OpEnqueue, "train id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.WaitingIndex(trainID) >= 0 {
		return model.WaitingEntry{}, nil, conflict(OpEnqueue, "train %s is already in the waiting queue", trainID)
	}
	if held := c.state.OccupiedBy(trainID); len(held) > 0 {
		return model.WaitingEntry{}, nil, conflict(OpEnqueue, "train %s already occupies %s", trainID, strings.Join(held, ", "))
	}
	ri := c.state.RosterIndex(trainID)
	if ri < 0 {
		return model.WaitingEntry{}, nil, notFound(OpEnqueue, "train %s is not in the arriving roster", trainID)
	}
	prev := c.lastEnqueued
	entry := model.WaitingEntry{
		TrainID:       trainID,
		TrainName:     c.state.Roster[ri].Name,
		EnqueuedAt:    c.nextEnqueueTime(),
		ActualArrival: req.ActualArrival,
		IncomingLine:  req.IncomingLine,
	}
	next := c.state.Clone()
	next.InsertWaiting(entry)
	if err := c.commit(ctx, OpEnqueue, next); err != nil {
		c.lastEnqueued = prev
		return model.WaitingEntry{}, nil, err
	}
	fx := &effects{}
	fx.publish(events.TypeStateChanged, events.StateChanged{Operation: OpEnqueue, TrainID: trainID})
	fx.audit = append(fx.audit, audit.Record{
		Timestamp: entry.EnqueuedAt,
		Action:    audit.ActionEnqueue,
		TrainID:   trainID,
		Line:      entry.IncomingLine,
		Message:   fmt.Sprintf("train %s added to the waiting list", trainID),
	})
	c.log.Infow("train queued", map[string]any{"train_id": trainID, "position": next.WaitingIndex(trainID)})
	return entry, fx, nil
}

// Dequeue removes a train from the waiting queue without touching the roster.
// A pending suggestion for the train is withdrawn.
func (c *Controller) Dequeue(ctx context.Context, trainID string) error {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpDequeue, attribute.String("train_id", trainID))
	fx, err := c.dequeue(ctx, trainID)
	c.finish(span, OpDequeue, trainID, nil, start, err)
	if err != nil {
		return err
	}
	c.flush(ctx, fx)
	return nil
}

func (c *Controller) dequeue(ctx context.Context, trainID string) (*effects, error) {
	trainID = strings.TrimSpace(trainID)
	if trainID == "" {
		return nil, invalid(OpDequeue, "train id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.WaitingIndex(trainID) < 0 {
		return nil, notFound(OpDequeue, "train %s is not in the waiting queue", trainID)
	}
	next := c.state.Clone()
	next.RemoveWaiting(trainID)
	if err := c.commit(ctx, OpDequeue, next); err != nil {
		return nil, err
	}
	fx := &effects{}
	c.dropSuggestionsLocked(fx, func(s *events.Suggestion) bool { return s.TrainID == trainID })
	fx.publish(events.TypeStateChanged, events.StateChanged{Operation: OpDequeue, TrainID: trainID})
	fx.audit = append(fx.audit, audit.Record{
		Timestamp: c.now(),
		Action:    audit.ActionDequeue,
		TrainID:   trainID,
		Message:   fmt.Sprintf("train %s removed from the waiting list", trainID),
	})
	c.log.Infof("train %s removed from the waiting queue", trainID)
	return fx, nil
}

// SyncRoster adds entries missing from the roster. Existing entries and
// trains already placed or queued are left alone; nothing is removed. It
// returns the number of entries added.
func (c *Controller) SyncRoster(ctx context.Context, entries []model.RosterEntry) (int, error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpSyncRoster, attribute.Int("entries", len(entries)))
	added, fx, err := c.syncRoster(ctx, entries)
	c.finish(span, OpSyncRoster, "", nil, start, err)
	if err != nil {
		return 0, err
	}
	if fx != nil {
		c.flush(ctx, fx)
	}
	return added, nil
}

func (c *Controller) syncRoster(ctx context.Context, entries []model.RosterEntry) (int, *effects, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.Clone()
	added := 0
	for _, e := range entries {
		if e.TrainID == "" || next.RosterIndex(e.TrainID) >= 0 || next.WaitingIndex(e.TrainID) >= 0 || len(next.OccupiedBy(e.TrainID)) > 0 {
			continue
		}
		next.Roster = append(next.Roster, e)
		added++
	}
	if added == 0 {
		return 0, nil, nil
	}
	next.SortRoster()
	if err := c.commit(ctx, OpSyncRoster, next); err != nil {
		return 0, nil, err
	}
	fx := &effects{}
	fx.publish(events.TypeStateChanged, events.StateChanged{Operation: OpSyncRoster})
	fx.audit = append(fx.audit, audit.Record{
		Timestamp: c.now(),
		Action:    audit.ActionRoster,
		Message:   fmt.Sprintf("%d trains added to the arriving roster", added),
	})
	c.log.Infof("roster sync added %d trains", added)
	return added, fx, nil
}

// SyncFromMaster refreshes the roster from the train master.
func (c *Controller) SyncFromMaster(ctx context.Context) (int, error) {
	ts, err := c.trains.ListTrains(ctx)
	if err != nil {
		return 0, unavailable(OpSyncRoster, "list train master", err)
	}
	return c.SyncRoster(ctx, RosterFromTrains(ts))
}

// AddTrain stores a new master record and puts the train on the roster.
func (c *Controller) AddTrain(ctx context.Context, t model.Train) error {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpAddTrain, attribute.String("train_id", t.ID))
	err := c.addTrain(ctx, t)
	c.finish(span, OpAddTrain, t.ID, nil, start, err)
	return err
}

func (c *Controller) addTrain(ctx context.Context, t model.Train) error {
	if err := t.Validate(); err != nil {
		return invalid(OpAddTrain, "%v", err)
	}
	w, ok := c.trains.(trains.Writer)
	if !ok {
		return newError(OpAddTrain, ErrUnavailable, "train master is read-only")
	}
	if _, err := c.trains.GetTrain(ctx, t.ID); err == nil {
		return conflict(OpAddTrain, "train %s already exists", t.ID)
	}
	if err := w.PutTrain(ctx, t); err != nil {
		return unavailable(OpAddTrain, "store train", err)
	}
	_, err := c.SyncRoster(ctx, []model.RosterEntry{rosterEntry(t)})
	return err
}

// RemoveTrain deletes the train from the master, the roster and the waiting
// queue. Trains currently on a resource are refused.
func (c *Controller) RemoveTrain(ctx context.Context, trainID string) error {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpRemoveTrain, attribute.String("train_id", trainID))
	fx, err := c.removeTrain(ctx, trainID)
	c.finish(span, OpRemoveTrain, trainID, nil, start, err)
	if err != nil {
		return err
	}
	c.flush(ctx, fx)
	return nil
}

func (c *Controller) removeTrain(ctx context.Context, trainID string) (*effects, error) {
	trainID = strings.TrimSpace(trainID)
	if trainID == "" {
		return nil, invalid(OpRemoveTrain, "train id is required")
	}
	if held := c.occupiedBy(trainID); len(held) > 0 {
		return nil, conflict(OpRemoveTrain, "train %s occupies %s", trainID, strings.Join(held, ", "))
	}
	var inMaster bool
	if w, ok := c.trains.(trains.Writer); ok {
		err := w.DeleteTrain(ctx, trainID)
		switch {
		case err == nil:
			inMaster = true
		case !errors.Is(err, trains.ErrUnknownTrain):
			return nil, unavailable(OpRemoveTrain, "delete train", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if held := c.state.OccupiedBy(trainID); len(held) > 0 {
		return nil, conflict(OpRemoveTrain, "train %s occupies %s", trainID, strings.Join(held, ", "))
	}
	next := c.state.Clone()
	inRoster := next.RemoveRoster(trainID)
	inQueue := next.RemoveWaiting(trainID)
	if !inRoster && !inQueue && !inMaster {
		return nil, notFound(OpRemoveTrain, "unknown train %s", trainID)
	}
	fx := &effects{}
	if inRoster || inQueue {
		if err := c.commit(ctx, OpRemoveTrain, next); err != nil {
			return nil, err
		}
		c.dropSuggestionsLocked(fx, func(s *events.Suggestion) bool { return s.TrainID == trainID })
		fx.publish(events.TypeStateChanged, events.StateChanged{Operation: OpRemoveTrain, TrainID: trainID})
	}
	fx.audit = append(fx.audit, audit.Record{
		Timestamp: c.now(),
		Action:    audit.ActionRoster,
		TrainID:   trainID,
		Message:   fmt.Sprintf("train %s deleted", trainID),
	})
	c.log.Infof("train %s deleted", trainID)
	return fx, nil
}

func (c *Controller) occupiedBy(trainID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.OccupiedBy(trainID)
}

// LogDepartureLine records the outgoing line of the train on resourceID. It
// does not change state.
func (c *Controller) LogDepartureLine(ctx context.Context, resourceID, line string) (string, error) {
	start := time.Now()
	_, span := c.startSpan(ctx, OpDepartLine, attribute.String("resource_id", resourceID), attribute.String("line", line))
	id := model.NormalizeResourceID(resourceID)
	var (
		trainID string
		err     error
	)
	line = strings.TrimSpace(line)
	switch {
	case id == "":
		err = invalid(OpDepartLine, "resource id is required")
	case !model.ValidResourceID(id):
		err = invalid(OpDepartLine, "malformed resource id %q", resourceID)
	case line == "":
		err = invalid(OpDepartLine, "departure line is required")
	default:
		c.mu.Lock()
		r := c.state.Resource(id)
		switch {
		case r == nil:
			err = notFound(OpDepartLine, "unknown resource %s", id)
		case r.State != model.StateOccupied || r.Occupant == nil:
			err = conflict(OpDepartLine, "resource %s is not occupied", id)
		default:
			trainID = r.Occupant.TrainID
		}
		c.mu.Unlock()
	}
	c.finish(span, OpDepartLine, trainID, []string{id}, start, err)
	if err != nil {
		return "", err
	}
	c.appendAudit(audit.Record{
		Timestamp:   c.now(),
		Action:      audit.ActionDepartLine,
		TrainID:     trainID,
		ResourceIDs: []string{id},
		Line:        line,
		Message:     fmt.Sprintf("train %s departing from %s via %s", trainID, id, line),
	})
	return trainID, nil
}
