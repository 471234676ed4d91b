package allocation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/events"
	"github.com/kilianp07/stationctl/core/metrics"
	"github.com/kilianp07/stationctl/core/model"
	"github.com/kilianp07/stationctl/core/monitoring"
	"github.com/kilianp07/stationctl/core/scoring"
)

// Check offers free resources to the waiting queue. The first TopK entries
// are evaluated in FCFS order and at most one suggestion is issued: the one
// for the first entry with a feasible ranking. Resources reserved by pending
// suggestions are not offered again and trains holding a pending suggestion
// are skipped. hint lists the resources that triggered the check.
func (c *Controller) Check(ctx context.Context, hint []string) (*events.Suggestion, error) {
	ctx, span := c.startSpan(ctx, "check", attribute.StringSlice("hint", hint))
	defer span.End()

	c.mu.Lock()
	heads := c.headsLocked()
	c.mu.Unlock()
	if len(heads) == 0 {
		return nil, nil
	}
	known := make(map[string]model.Train, len(heads))
	for _, w := range heads {
		if t, ok := c.lookupTrain(ctx, w.TrainID); ok {
			known[w.TrainID] = t
		}
	}

	c.mu.Lock()
	c.pruneExpiredLocked()
	free := c.unreservedFreeLocked()
	var sug *events.Suggestion
	if len(free) > 0 {
		for _, w := range c.headsLocked() {
			if c.suggestionForLocked(w.TrainID) != nil {
				continue
			}
			t, ok := known[w.TrainID]
			if !ok {
				t = model.Train{ID: w.TrainID, Name: w.TrainName, Type: model.TrainPassenger, Length: model.LengthShort}
			}
			best, ok := feasible(c.engine.Rank(t, free, w.IncomingLine))
			if !ok {
				continue
			}
			now := c.now()
			sug = &events.Suggestion{
				ID:           uuid.NewString(),
				TrainID:      w.TrainID,
				TrainName:    firstNonEmpty(w.TrainName, t.Name),
				IncomingLine: w.IncomingLine,
				ResourceIDs:  append([]string(nil), best.ResourceIDs...),
				Score:        best.Score,
				IssuedAt:     now,
				ExpiresAt:    now.Add(c.cfg.SuggestionTTL),
			}
			c.suggestions[sug.ID] = sug
			c.expiry.Arm(sug.ID, c.cfg.SuggestionTTL, sug.ID)
			break
		}
	}
	c.mu.Unlock()

	if sug == nil {
		c.log.Debugw("waiting queue check found nothing to suggest", map[string]any{"hint": hint, "free": len(free)})
		return nil, nil
	}
	out := *sug
	span.SetAttributes(attribute.String("suggestion_id", out.ID), attribute.String("train_id", out.TrainID))
	c.log.Infow("suggestion issued", map[string]any{"id": out.ID, "train_id": out.TrainID, "resources": out.ResourceIDs})
	c.sink.Publish(events.TypeSuggestionIssued, out)
	c.recordSuggestion(out.ID, out.TrainID, "issued")
	c.appendAudit(audit.Record{
		Timestamp:   out.IssuedAt,
		Action:      audit.ActionSuggestion,
		TrainID:     out.TrainID,
		ResourceIDs: out.ResourceIDs,
		Line:        out.IncomingLine,
		Message:     fmt.Sprintf("suggested %s for waiting train %s", strings.Join(out.ResourceIDs, ", "), out.TrainID),
	})
	return &out, nil
}

// AcceptSuggestion turns a pending suggestion into an assignment.
func (c *Controller) AcceptSuggestion(ctx context.Context, id string) (AssignResult, error) {
	start := time.Now()
	ctx, span := c.startSpan(ctx, OpAccept, attribute.String("suggestion_id", id))

	c.mu.Lock()
	err := c.pendingLocked(id)
	var req AssignRequest
	if err == nil {
		s := c.suggestions[id]
		req = AssignRequest{TrainID: s.TrainID, ResourceIDs: s.ResourceIDs, IncomingLine: s.IncomingLine}
	}
	c.mu.Unlock()
	if err != nil {
		c.finish(span, OpAccept, "", nil, start, err)
		return AssignResult{}, err
	}

	res, fx, err := c.assign(ctx, req, id)
	c.finish(span, OpAccept, req.TrainID, res.ResourceIDs, start, err)
	if err != nil {
		return AssignResult{}, err
	}
	c.flush(ctx, fx)
	return res, nil
}

// pendingLocked reports whether id is a live suggestion. A suggestion past
// its deadline whose timer has not fired yet is expired on the spot.
func (c *Controller) pendingLocked(id string) error {
	s, ok := c.suggestions[id]
	if !ok {
		if _, gone := c.expired[id]; gone {
			return newError(OpAccept, ErrExpired, "suggestion %s has expired", id)
		}
		return notFound(OpAccept, "unknown suggestion %s", id)
	}
	if !c.now().Before(s.ExpiresAt) {
		return newError(OpAccept, ErrExpired, "suggestion %s has expired", id)
	}
	return nil
}

// feasible returns the best ranking a train can actually use. Freight
// rankings in the LOWEST partition are unsuitable resources.
func feasible(ranked []scoring.Ranking) (scoring.Ranking, bool) {
	for _, r := range ranked {
		if r.Partition != scoring.PartitionLowest {
			return r, true
		}
	}
	return scoring.Ranking{}, false
}

// headsLocked returns the first TopK waiting entries.
func (c *Controller) headsLocked() []model.WaitingEntry {
	n := c.cfg.TopK
	if n > len(c.state.Waiting) {
		n = len(c.state.Waiting)
	}
	return append([]model.WaitingEntry(nil), c.state.Waiting[:n]...)
}

// unreservedFreeLocked lists free resources not held by a pending suggestion.
func (c *Controller) unreservedFreeLocked() []string {
	reserved := make(map[string]bool)
	for _, s := range c.suggestions {
		for _, id := range s.ResourceIDs {
			reserved[id] = true
		}
	}
	var out []string
	for _, id := range c.state.FreeResourceIDs() {
		if !reserved[id] {
			out = append(out, id)
		}
	}
	return out
}

func (c *Controller) suggestionForLocked(trainID string) *events.Suggestion {
	for _, s := range c.suggestions {
		if s.TrainID == trainID {
			return s
		}
	}
	return nil
}

func (c *Controller) pendingSuggestionsLocked() []events.Suggestion {
	out := make([]events.Suggestion, 0, len(c.suggestions))
	for _, s := range c.suggestions {
		cp := *s
		cp.ResourceIDs = append([]string(nil), s.ResourceIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// dropSuggestionsLocked withdraws every suggestion matching drop and queues
// the expiry events on fx.
func (c *Controller) dropSuggestionsLocked(fx *effects, drop func(*events.Suggestion) bool) {
	for id, s := range c.suggestions {
		if !drop(s) {
			continue
		}
		delete(c.suggestions, id)
		c.expired[id] = c.now()
		c.expiry.Cancel(id)
		fx.publish(events.TypeSuggestionExpired, resolved(s))
		fx.outcomes = append(fx.outcomes, metrics.SuggestionEvent{SuggestionID: id, TrainID: s.TrainID, Outcome: "expired"})
	}
}

// consumeSuggestionLocked removes an accepted suggestion.
func (c *Controller) consumeSuggestionLocked(fx *effects, id string) {
	s, ok := c.suggestions[id]
	if !ok {
		return
	}
	delete(c.suggestions, id)
	c.expiry.Cancel(id)
	fx.publish(events.TypeSuggestionAccepted, resolved(s))
	fx.outcomes = append(fx.outcomes, metrics.SuggestionEvent{SuggestionID: id, TrainID: s.TrainID, Outcome: "accepted"})
}

func (c *Controller) pruneExpiredLocked() {
	cutoff := c.now().Add(-expiredRetention)
	for id, at := range c.expired {
		if at.Before(cutoff) {
			delete(c.expired, id)
		}
	}
}

func (c *Controller) onSuggestionExpired(id string, _ string) {
	defer monitoring.Recover()
	c.mu.Lock()
	s, ok := c.suggestions[id]
	if ok {
		delete(c.suggestions, id)
		c.expired[id] = c.now()
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.log.Infow("suggestion expired", map[string]any{"id": id, "train_id": s.TrainID})
	c.sink.Publish(events.TypeSuggestionExpired, resolved(s))
	c.recordSuggestion(id, s.TrainID, "expired")
}

func (c *Controller) recordSuggestion(id, trainID, outcome string) {
	suggestionsTotal.WithLabelValues(outcome).Inc()
	c.mu.Lock()
	sink := c.metrics
	c.mu.Unlock()
	if rec, ok := sink.(metrics.SuggestionRecorder); ok {
		if err := rec.RecordSuggestion(metrics.SuggestionEvent{SuggestionID: id, TrainID: trainID, Outcome: outcome, Time: c.now()}); err != nil {
			c.log.Errorf("suggestion metrics error: %v", err)
		}
	}
}

func resolved(s *events.Suggestion) events.SuggestionResolved {
	return events.SuggestionResolved{ID: s.ID, TrainID: s.TrainID, ResourceIDs: append([]string(nil), s.ResourceIDs...)}
}
