package model

import (
	"sort"
	"time"
)

// WaitingEntry is a train queued for a resource. Entries are served in
// EnqueuedAt order with TrainID as tie-break.
type WaitingEntry struct {
	TrainID       string    `json:"train_id"`
	TrainName     string    `json:"train_name"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	ActualArrival string    `json:"actual_arrival,omitempty"`
	IncomingLine  string    `json:"incoming_line,omitempty"`
}

// RosterEntry is a scheduled train not yet placed.
type RosterEntry struct {
	TrainID            string `json:"train_id"`
	Name               string `json:"name"`
	ScheduledArrival   string `json:"scheduled_arrival,omitempty"`
	ScheduledDeparture string `json:"scheduled_departure,omitempty"`
}

// StationState is the single state document of the station.
type StationState struct {
	Resources []Resource     `json:"resources"`
	Waiting   []WaitingEntry `json:"waiting"`
	Roster    []RosterEntry  `json:"roster"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the state.
func (s *StationState) Clone() *StationState {
	if s == nil {
		return nil
	}
	out := &StationState{UpdatedAt: s.UpdatedAt}
	out.Resources = make([]Resource, len(s.Resources))
	for i, r := range s.Resources {
		if r.Occupant != nil {
			occ := *r.Occupant
			r.Occupant = &occ
		}
		out.Resources[i] = r
	}
	out.Waiting = append([]WaitingEntry(nil), s.Waiting...)
	out.Roster = append([]RosterEntry(nil), s.Roster...)
	return out
}

// Resource returns a pointer into the state for the given id, or nil.
func (s *StationState) Resource(id string) *Resource {
	for i := range s.Resources {
		if s.Resources[i].ID == id {
			return &s.Resources[i]
		}
	}
	return nil
}

// FreeResourceIDs lists free resources in layout order.
func (s *StationState) FreeResourceIDs() []string {
	var ids []string
	for _, r := range s.Resources {
		if r.IsFree() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// OccupiedBy returns the resources currently held by the train.
func (s *StationState) OccupiedBy(trainID string) []string {
	var ids []string
	for _, r := range s.Resources {
		if r.State == StateOccupied && r.Occupant != nil && r.Occupant.TrainID == trainID {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// WaitingIndex returns the queue position of the train or -1.
func (s *StationState) WaitingIndex(trainID string) int {
	for i, w := range s.Waiting {
		if w.TrainID == trainID {
			return i
		}
	}
	return -1
}

// RosterIndex returns the roster position of the train or -1.
func (s *StationState) RosterIndex(trainID string) int {
	for i, r := range s.Roster {
		if r.TrainID == trainID {
			return i
		}
	}
	return -1
}

// InsertWaiting places the entry in FCFS position.
func (s *StationState) InsertWaiting(e WaitingEntry) {
	i := sort.Search(len(s.Waiting), func(i int) bool {
		w := s.Waiting[i]
		if !w.EnqueuedAt.Equal(e.EnqueuedAt) {
			return w.EnqueuedAt.After(e.EnqueuedAt)
		}
		return w.TrainID > e.TrainID
	})
	s.Waiting = append(s.Waiting, WaitingEntry{})
	copy(s.Waiting[i+1:], s.Waiting[i:])
	s.Waiting[i] = e
}

// RemoveWaiting drops the train from the queue and reports whether it was present.
func (s *StationState) RemoveWaiting(trainID string) bool {
	i := s.WaitingIndex(trainID)
	if i < 0 {
		return false
	}
	s.Waiting = append(s.Waiting[:i], s.Waiting[i+1:]...)
	return true
}

// RemoveRoster drops the train from the roster and reports whether it was present.
func (s *StationState) RemoveRoster(trainID string) bool {
	i := s.RosterIndex(trainID)
	if i < 0 {
		return false
	}
	s.Roster = append(s.Roster[:i], s.Roster[i+1:]...)
	return true
}

// SortRoster orders the roster by scheduled arrival, falling back to the
// scheduled departure. Entries without either go last.
func (s *StationState) SortRoster() {
	key := func(r RosterEntry) string {
		if r.ScheduledArrival != "" {
			return r.ScheduledArrival
		}
		if r.ScheduledDeparture != "" {
			return r.ScheduledDeparture
		}
		return "99:99"
	}
	sort.SliceStable(s.Roster, func(i, j int) bool {
		return key(s.Roster[i]) < key(s.Roster[j])
	})
}

// Counts returns the number of free, occupied and maintenance resources.
func (s *StationState) Counts() (free, occupied, maintenance int) {
	for _, r := range s.Resources {
		switch r.State {
		case StateFree:
			free++
		case StateOccupied:
			occupied++
		case StateMaintenance:
			maintenance++
		}
	}
	return
}
