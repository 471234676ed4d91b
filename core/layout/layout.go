// Package layout describes the static resource sets of a station: which ids
// are platforms or tracks, how platforms pair up for long rakes, and the
// per-direction preference lists used by the scoring engine.
package layout

import (
	"fmt"
	"strings"

	"github.com/kilianp07/stationctl/core/model"
)

// Pair is two platforms that together hold one long rake.
type Pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Group returns the matrix group name of the pair, e.g. "P1-3".
func (p Pair) Group() string {
	prefix, _, _ := model.ResourceKey(p.B)
	return p.A + "-" + strings.TrimPrefix(p.B, prefix)
}

// Layout is the station topology.
type Layout struct {
	Platforms   []string                     `json:"platforms"`
	Tracks      []string                     `json:"tracks"`
	Pairs       []Pair                       `json:"pairs"`
	LongSingles []string                     `json:"long_singles"`
	Terminating map[model.Direction][]string `json:"terminating"`
	NonPlatform map[model.Direction][]string `json:"non_platform"`
	TieBreak    map[model.Direction][]string `json:"tie_break"`
}

// Default returns the Kharagpur layout.
func Default() Layout {
	return Layout{
		Platforms:   []string{"P1", "P2", "P3", "P4", "P5", "P6", "P7", "P8", "P1A", "P2A", "P3A", "P4A"},
		Tracks:      []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8", "T9", "T10", "T11", "T12"},
		Pairs:       []Pair{{A: "P1", B: "P3"}, {A: "P2", B: "P4"}},
		LongSingles: []string{"P5", "P6", "P7", "P8"},
		Terminating: map[model.Direction][]string{
			model.DirectionUp:   {"P1A", "P2A"},
			model.DirectionDown: {"P3A", "P4A"},
		},
		NonPlatform: map[model.Direction][]string{
			model.DirectionUp:   {"T1", "T2", "T3", "T4", "T5", "T6"},
			model.DirectionDown: {"T7", "T8", "T9", "T10", "T11", "T12"},
		},
		TieBreak: map[model.Direction][]string{
			model.DirectionUp:   {"P1-3", "P2-4", "P5", "P6", "P8"},
			model.DirectionDown: {"P8", "P7", "P6", "P5", "P2-4", "P1-3"},
		},
	}
}

// ResourceIDs lists every resource, platforms first.
func (l Layout) ResourceIDs() []string {
	out := make([]string, 0, len(l.Platforms)+len(l.Tracks))
	out = append(out, l.Platforms...)
	return append(out, l.Tracks...)
}

// Kind reports whether id is a platform or a track.
func (l Layout) Kind(id string) (model.ResourceKind, bool) {
	if contains(l.Platforms, id) {
		return model.KindPlatform, true
	}
	if contains(l.Tracks, id) {
		return model.KindTrack, true
	}
	return "", false
}

// IsPlatform reports whether id is a platform.
func (l Layout) IsPlatform(id string) bool { return contains(l.Platforms, id) }

// Group returns the matrix group for id: the pair group for pairable
// platforms, the id itself otherwise.
func (l Layout) Group(id string) string {
	for _, p := range l.Pairs {
		if p.A == id || p.B == id {
			return p.Group()
		}
	}
	return id
}

// Partner returns the other half of a pairable platform.
func (l Layout) Partner(id string) (string, bool) {
	for _, p := range l.Pairs {
		switch id {
		case p.A:
			return p.B, true
		case p.B:
			return p.A, true
		}
	}
	return "", false
}

// IsLongSingle reports whether id can hold a long rake on its own.
func (l Layout) IsLongSingle(id string) bool { return contains(l.LongSingles, id) }

// IsTerminating reports whether id belongs to the terminating set of dir.
func (l Layout) IsTerminating(dir model.Direction, id string) bool {
	return contains(l.Terminating[dir], id)
}

// IsDirectionTrack reports whether id is a non-platform track for dir.
func (l Layout) IsDirectionTrack(dir model.Direction, id string) bool {
	return contains(l.NonPlatform[dir], id)
}

// TieRank is the position of group in the tie-break list for dir. Unlisted
// groups rank after every listed one.
func (l Layout) TieRank(dir model.Direction, group string) int {
	order := l.TieBreak[dir]
	for i, g := range order {
		if g == group {
			return i
		}
	}
	return len(order)
}

// Validate checks the layout is internally consistent.
func (l Layout) Validate() error {
	if len(l.Platforms) == 0 {
		return fmt.Errorf("layout: no platforms defined")
	}
	seen := make(map[string]bool)
	for _, id := range l.ResourceIDs() {
		if seen[id] {
			return fmt.Errorf("layout: duplicate resource %s", id)
		}
		if !model.ValidResourceID(id) {
			return fmt.Errorf("layout: malformed resource id %q", id)
		}
		seen[id] = true
	}
	paired := make(map[string]bool)
	for _, p := range l.Pairs {
		if !l.IsPlatform(p.A) || !l.IsPlatform(p.B) {
			return fmt.Errorf("layout: pair %s references unknown platform", p.Group())
		}
		if p.A == p.B || paired[p.A] || paired[p.B] {
			return fmt.Errorf("layout: platform reused in pair %s", p.Group())
		}
		paired[p.A], paired[p.B] = true, true
	}
	for _, id := range l.LongSingles {
		if !l.IsPlatform(id) {
			return fmt.Errorf("layout: long single %s is not a platform", id)
		}
	}
	for dir, ids := range l.Terminating {
		for _, id := range ids {
			if !l.IsPlatform(id) {
				return fmt.Errorf("layout: terminating %s %s is not a platform", dir, id)
			}
		}
	}
	for dir, ids := range l.NonPlatform {
		for _, id := range ids {
			if !contains(l.Tracks, id) {
				return fmt.Errorf("layout: %s track %s is unknown", dir, id)
			}
		}
	}
	return nil
}

// InitialState builds an all-free station state for the layout.
func (l Layout) InitialState() *model.StationState {
	s := &model.StationState{}
	for _, id := range l.ResourceIDs() {
		kind, _ := l.Kind(id)
		s.Resources = append(s.Resources, model.Resource{
			ID:    id,
			Kind:  kind,
			Group: l.Group(id),
			State: model.StateFree,
		})
	}
	return s
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
