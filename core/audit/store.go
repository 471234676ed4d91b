// Package audit persists the operations log of the station: every
// assignment, departure, queue movement and maintenance toggle.
package audit

import (
	"context"
	"time"
)

// Action names written to the log.
const (
	ActionInit        = "INIT"
	ActionAssign      = "ASSIGN"
	ActionUnassign    = "UNASSIGN"
	ActionDepart      = "DEPART"
	ActionDepartLine  = "DEPART_LINE"
	ActionMaintenance = "MAINTENANCE"
	ActionEnqueue     = "WAITING_ADD"
	ActionDequeue     = "WAITING_REMOVE"
	ActionSuggestion  = "SUGGESTION"
	ActionRoster      = "ROSTER"
	ActionRank        = "RANK"
)

// Record captures one operation.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      string    `json:"action"`
	TrainID     string    `json:"train_id,omitempty"`
	ResourceIDs []string  `json:"resource_ids,omitempty"`
	Line        string    `json:"line,omitempty"`
	Message     string    `json:"message"`
}

// Query defines filters for retrieving records. Records come back oldest
// first; Limit keeps only the most recent ones.
type Query struct {
	Start   time.Time
	End     time.Time
	TrainID string
	Action  string
	Limit   int
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

func (q Query) match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Action != "" && r.Action != q.Action {
		return false
	}
	if q.TrainID != "" && r.TrainID != q.TrainID {
		return false
	}
	return true
}

func (q Query) limit(recs []Record) []Record {
	if q.Limit > 0 && len(recs) > q.Limit {
		return recs[len(recs)-q.Limit:]
	}
	return recs
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
