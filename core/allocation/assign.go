package allocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/events"
	"github.com/kilianp07/stationctl/core/metrics"
	"github.com/kilianp07/stationctl/core/model"
)

// Operation names used in errors, metrics and events.
const (
	OpAssign      = "assign"
	OpUnassign    = "unassign"
	OpDepart      = "depart"
	OpMaintenance = "toggle_maintenance"
	OpEnqueue     = "enqueue"
	OpDequeue     = "dequeue"
	OpAccept      = "accept_suggestion"
	OpRank        = "rank"
	OpSyncRoster  = "sync_roster"
	OpAddTrain    = "add_train"
	OpRemoveTrain = "remove_train"
	OpDepartLine  = "depart_line"
)

// AssignRequest places a train on one or two resources. The first resource
// is the primary one.
type AssignRequest struct {
	TrainID       string   `json:"train_id"`
	ResourceIDs   []string `json:"resource_ids"`
	ActualArrival string   `json:"actual_arrival,omitempty"`
	IncomingLine  string   `json:"incoming_line,omitempty"`
}

// AssignResult describes a committed assignment.
type AssignResult struct {
	TrainID     string        `json:"train_id"`
	ResourceIDs []string      `json:"resource_ids"`
	Primary     string        `json:"primary"`
	Dwell       time.Duration `json:"dwell_ns"`
}

// UnassignPolicy decides where an unassigned train goes.
type UnassignPolicy string

const (
	// PolicyKeep drops the train from every list.
	PolicyKeep UnassignPolicy = "keep"
	// PolicyReturnToRoster puts the train back on the arriving roster.
	PolicyReturnToRoster UnassignPolicy = "roster"
	// PolicyReturnToWaiting queues the train at the back of the waiting queue.
	PolicyReturnToWaiting UnassignPolicy = "waiting"
)

// ParseUnassignPolicy maps a request value to a policy. Empty selects PolicyKeep.
func ParseUnassignPolicy(s string) (UnassignPolicy, error) {
	switch p := UnassignPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyKeep, nil
	case PolicyKeep, PolicyReturnToRoster, PolicyReturnToWaiting:
		return p, nil
	default:
		return "", invalid(OpUnassign, "unknown policy %q", s)
	}
}

// ReleaseResult lists the resources vacated by Unassign or Depart.
type ReleaseResult struct {
	TrainID     string   `json:"train_id"`
	ResourceIDs []string `json:"resource_ids"`
}

// Assign places a train taken from the waiting queue or the roster.
func (c *Controller) Assign(ctx context.Context, req AssignRequest) (AssignResult, error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpAssign, attribute.String("train_id", req.TrainID), attribute.StringSlice("resource_ids", req.ResourceIDs))
	res, fx, err := c.assign(ctx, req, "")
	c.finish(span, OpAssign, req.TrainID, res.ResourceIDs, start, err)
	if err != nil {
		return AssignResult{}, err
	}
	c.flush(ctx, fx)
	return res, nil
}

// assign commits an assignment. A non-empty acceptID binds the call to a
// pending suggestion which is consumed on success.
func (c *Controller) assign(ctx context.Context, req AssignRequest, acceptID string) (AssignResult, *effects, error) {
	op := OpAssign
	if acceptID != "" {
		op = OpAccept
	}
	trainID := strings.TrimSpace(req.TrainID)
	if trainID == "" {
		return AssignResult{}, nil, invalid(op, "train id is required")
	}
	if len(req.ResourceIDs) == 0 {
		return AssignResult{}, nil, invalid(op, "at least one resource is required")
	}
	var ids []string
	for _, raw := range req.ResourceIDs {
		id := model.NormalizeResourceID(raw)
		if !model.ValidResourceID(id) {
			return AssignResult{}, nil, invalid(op, "malformed resource id %q", raw)
		}
		if !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if len(ids) > 2 {
		return AssignResult{}, nil, invalid(op, "a train occupies at most two resources, got %d", len(ids))
	}
	train, known := c.lookupTrain(ctx, trainID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if acceptID != "" {
		if err := c.pendingLocked(acceptID); err != nil {
			return AssignResult{}, nil, err
		}
	}
	if held := c.state.OccupiedBy(trainID); len(held) > 0 {
		return AssignResult{}, nil, conflict(op, "train %s already occupies %s", trainID, strings.Join(held, ", "))
	}
	wi, ri := c.state.WaitingIndex(trainID), c.state.RosterIndex(trainID)
	if wi < 0 && ri < 0 {
		return AssignResult{}, nil, notFound(op, "train %s is not in the waiting queue or arriving roster", trainID)
	}
	for _, id := range ids {
		if c.state.Resource(id) == nil {
			return AssignResult{}, nil, notFound(op, "unknown resource %s", id)
		}
	}
	if len(ids) == 2 {
		if partner, ok := c.engine.Layout().Partner(ids[0]); !ok || partner != ids[1] {
			return AssignResult{}, nil, invalid(op, "%s and %s are not a platform pair", ids[0], ids[1])
		}
	}
	if !known {
		train = model.Train{ID: trainID, Type: model.TrainPassenger, Length: model.LengthShort}
	}
	if train.IsLong() && len(ids) == 1 {
		if partner, ok := c.engine.Layout().Partner(ids[0]); ok {
			p := c.state.Resource(partner)
			if p == nil || !p.IsFree() {
				return AssignResult{}, nil, conflict(op, "partner unavailable: %s is %s", partner, stateOf(p))
			}
			ids = append(ids, partner)
		}
	}
	for _, id := range ids {
		r := c.state.Resource(id)
		switch r.State {
		case model.StateOccupied:
			return AssignResult{}, nil, conflict(op, "resource %s is occupied by train %s", id, occupantID(r))
		case model.StateMaintenance:
			return AssignResult{}, nil, conflict(op, "resource %s is under maintenance", id)
		}
	}

	next := c.state.Clone()
	occ := model.Assignment{
		TrainID:       trainID,
		TrainName:     train.Name,
		ActualArrival: req.ActualArrival,
		IncomingLine:  req.IncomingLine,
		AssignedAt:    c.now(),
	}
	if wi >= 0 {
		w := next.Waiting[wi]
		occ.TrainName = firstNonEmpty(occ.TrainName, w.TrainName)
		occ.ActualArrival = firstNonEmpty(occ.ActualArrival, w.ActualArrival)
		occ.IncomingLine = firstNonEmpty(occ.IncomingLine, w.IncomingLine)
		next.RemoveWaiting(trainID)
	} else {
		occ.TrainName = firstNonEmpty(occ.TrainName, next.Roster[ri].Name)
		next.RemoveRoster(trainID)
	}
	for i, id := range ids {
		r := next.Resource(id)
		a := occ
		a.IsPrimary = i == 0
		r.State = model.StateOccupied
		r.Occupant = &a
		if len(ids) == 2 {
			r.LinkedResourceID = ids[1-i]
		}
	}
	if err := c.commit(ctx, op, next); err != nil {
		return AssignResult{}, nil, err
	}

	fx := &effects{}
	c.dropSuggestionsLocked(fx, func(s *events.Suggestion) bool {
		return s.ID != acceptID && (s.TrainID == trainID || overlaps(s.ResourceIDs, ids))
	})
	if acceptID != "" {
		c.consumeSuggestionLocked(fx, acceptID)
	}
	dwell := dwellTime(train)
	for _, id := range ids {
		c.alerts.Cancel(id)
	}
	if dwell > 0 {
		c.alerts.Arm(ids[0], dwell, departureAlert(&occ, ids[0]))
	}
	fx.publish(events.TypeStateChanged, events.StateChanged{Operation: op, TrainID: trainID, ResourceIDs: ids})
	fx.audit = append(fx.audit, audit.Record{
		Timestamp:   occ.AssignedAt,
		Action:      audit.ActionAssign,
		TrainID:     trainID,
		ResourceIDs: ids,
		Line:        occ.IncomingLine,
		Message:     fmt.Sprintf("train %s arrived at %s and assigned to %s", trainID, occ.ActualArrival, strings.Join(ids, ", ")),
	})
	c.log.Infow("train assigned", map[string]any{"train_id": trainID, "resources": ids, "dwell": dwell.String()})
	return AssignResult{TrainID: trainID, ResourceIDs: ids, Primary: ids[0], Dwell: dwell}, fx, nil
}

// Unassign reverses an assignment. The policy decides whether the train
// returns to the roster or the waiting queue.
func (c *Controller) Unassign(ctx context.Context, resourceID string, policy UnassignPolicy) (ReleaseResult, error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpUnassign, attribute.String("resource_id", resourceID), attribute.String("policy", string(policy)))
	res, fx, err := c.release(ctx, OpUnassign, resourceID, policy)
	c.finish(span, OpUnassign, res.TrainID, res.ResourceIDs, start, err)
	if err != nil {
		return ReleaseResult{}, err
	}
	c.flush(ctx, fx)
	return res, nil
}

// Depart clears the resource after the train has left and offers the freed
// resources to the waiting queue.
func (c *Controller) Depart(ctx context.Context, resourceID string) (ReleaseResult, error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpDepart, attribute.String("resource_id", resourceID))
	res, fx, err := c.release(ctx, OpDepart, resourceID, PolicyKeep)
	c.finish(span, OpDepart, res.TrainID, res.ResourceIDs, start, err)
	if err != nil {
		return ReleaseResult{}, err
	}
	c.flush(ctx, fx)
	return res, nil
}

func (c *Controller) release(ctx context.Context, op, resourceID string, policy UnassignPolicy) (ReleaseResult, *effects, error) {
	id := model.NormalizeResourceID(resourceID)
	if id == "" {
		return ReleaseResult{}, nil, invalid(op, "resource id is required")
	}
	if !model.ValidResourceID(id) {
		return ReleaseResult{}, nil, invalid(op, "malformed resource id %q", resourceID)
	}
	if policy == "" {
		policy = PolicyKeep
	}
	if _, err := ParseUnassignPolicy(string(policy)); err != nil {
		return ReleaseResult{}, nil, invalid(op, "unknown policy %q", policy)
	}
	var train model.Train
	var known bool
	if policy == PolicyReturnToRoster {
		if occupant := c.peekOccupant(id); occupant != "" {
			train, known = c.lookupTrain(ctx, occupant)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r := c.state.Resource(id)
	if r == nil {
		return ReleaseResult{}, nil, notFound(op, "unknown resource %s", id)
	}
	if r.State != model.StateOccupied || r.Occupant == nil {
		return ReleaseResult{}, nil, conflict(op, "resource %s is not occupied", id)
	}
	occ := *r.Occupant
	ids := []string{id}
	if linked := r.LinkedResourceID; linked != "" {
		if p := c.state.Resource(linked); p != nil && p.Occupant != nil && p.Occupant.TrainID == occ.TrainID {
			ids = append(ids, linked)
		}
	}

	next := c.state.Clone()
	for _, rid := range ids {
		nr := next.Resource(rid)
		nr.State = model.StateFree
		nr.Occupant = nil
		nr.LinkedResourceID = ""
	}
	switch policy {
	case PolicyReturnToRoster:
		if next.RosterIndex(occ.TrainID) < 0 && next.WaitingIndex(occ.TrainID) < 0 {
			entry := model.RosterEntry{TrainID: occ.TrainID, Name: occ.TrainName}
			if known && train.ID == occ.TrainID {
				entry = rosterEntry(train)
				entry.Name = firstNonEmpty(entry.Name, occ.TrainName)
			}
			next.Roster = append(next.Roster, entry)
			next.SortRoster()
		}
	case PolicyReturnToWaiting:
		if next.WaitingIndex(occ.TrainID) < 0 {
			next.InsertWaiting(model.WaitingEntry{
				TrainID:       occ.TrainID,
				TrainName:     occ.TrainName,
				EnqueuedAt:    c.nextEnqueueTime(),
				ActualArrival: occ.ActualArrival,
				IncomingLine:  occ.IncomingLine,
			})
		}
	}
	if err := c.commit(ctx, op, next); err != nil {
		return ReleaseResult{}, nil, err
	}
	for _, rid := range ids {
		c.alerts.Cancel(rid)
	}

	now := c.now()
	fx := &effects{check: true, freed: ids}
	fx.publish(events.TypeStateChanged, events.StateChanged{Operation: op, TrainID: occ.TrainID, ResourceIDs: ids})
	rec := audit.Record{Timestamp: now, TrainID: occ.TrainID, ResourceIDs: ids}
	if op == OpDepart {
		rec.Action = audit.ActionDepart
		rec.Message = fmt.Sprintf("train %s departed from %s", occ.TrainID, strings.Join(ids, ", "))
		fx.dwell = &metrics.DwellEvent{TrainID: occ.TrainID, ResourceIDs: ids, Dwell: now.Sub(occ.AssignedAt), Time: now}
	} else {
		rec.Action = audit.ActionUnassign
		rec.Message = fmt.Sprintf("train %s unassigned from %s (policy %s)", occ.TrainID, strings.Join(ids, ", "), policy)
	}
	fx.audit = append(fx.audit, rec)
	c.log.Infow("resources released", map[string]any{"operation": op, "train_id": occ.TrainID, "resources": ids})
	return ReleaseResult{TrainID: occ.TrainID, ResourceIDs: ids}, fx, nil
}

// peekOccupant returns the train currently on id, if any.
func (c *Controller) peekOccupant(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.state.Resource(id); r != nil && r.Occupant != nil {
		return r.Occupant.TrainID
	}
	return ""
}

// ToggleMaintenance flips a free resource into maintenance and back.
func (c *Controller) ToggleMaintenance(ctx context.Context, resourceID string) (model.OccupancyState, error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpMaintenance, attribute.String("resource_id", resourceID))
	st, fx, err := c.toggleMaintenance(ctx, resourceID)
	c.finish(span, OpMaintenance, "", []string{model.NormalizeResourceID(resourceID)}, start, err)
	if err != nil {
		return "", err
	}
	c.flush(ctx, fx)
	return st, nil
}

func (c *Controller) toggleMaintenance(ctx context.Context, resourceID string) (model.OccupancyState, *effects, error) {
	id := model.NormalizeResourceID(resourceID)
	if id == "" {
		return "", nil, invalid(OpMaintenance, "resource id is required")
	}
	if !model.ValidResourceID(id) {
		return "", nil, invalid(OpMaintenance, "malformed resource id %q", resourceID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.state.Resource(id)
	if r == nil {
		return "", nil, notFound(OpMaintenance, "unknown resource %s", id)
	}
	if r.State == model.StateOccupied {
		return "", nil, conflict(OpMaintenance, "resource %s is occupied by train %s", id, occupantID(r))
	}
	next := c.state.Clone()
	nr := next.Resource(id)
	if nr.State == model.StateMaintenance {
		nr.State = model.StateFree
	} else {
		nr.State = model.StateMaintenance
	}
	if err := c.commit(ctx, OpMaintenance, next); err != nil {
		return "", nil, err
	}
	fx := &effects{}
	if nr.State == model.StateFree {
		fx.check, fx.freed = true, []string{id}
	} else {
		c.dropSuggestionsLocked(fx, func(s *events.Suggestion) bool { return contains(s.ResourceIDs, id) })
	}
	fx.publish(events.TypeStateChanged, events.StateChanged{Operation: OpMaintenance, ResourceIDs: []string{id}})
	fx.audit = append(fx.audit, audit.Record{
		Timestamp:   c.now(),
		Action:      audit.ActionMaintenance,
		ResourceIDs: []string{id},
		Message:     fmt.Sprintf("resource %s is now %s", id, nr.State),
	})
	c.log.Infof("resource %s is now %s", id, nr.State)
	return nr.State, fx, nil
}

// nextEnqueueTime returns a strictly increasing timestamp. Callers hold c.mu.
func (c *Controller) nextEnqueueTime() time.Time {
	t := c.now()
	if !t.After(c.lastEnqueued) {
		t = c.lastEnqueued.Add(time.Nanosecond)
	}
	c.lastEnqueued = t
	return t
}

func stateOf(r *model.Resource) string {
	if r == nil {
		return "unknown"
	}
	return string(r.State)
}

func occupantID(r *model.Resource) string {
	if r.Occupant == nil {
		return "unknown"
	}
	return r.Occupant.TrainID
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
