// Package scoring ranks candidate resources for a train. Ranking is pure: it
// reads the layout, the blockage matrix and the free resource list and never
// touches station state.
package scoring

import (
	"sort"

	"github.com/kilianp07/stationctl/core/blockage"
	"github.com/kilianp07/stationctl/core/layout"
	"github.com/kilianp07/stationctl/core/model"
)

// Partition labels freight rankings.
type Partition string

const (
	PartitionHighest Partition = "HIGHEST"
	PartitionLowest  Partition = "LOWEST"
)

// Freight partition scores.
const (
	FreightHighest = 100.0
	FreightLowest  = 0.0
)

// DefaultLineAgnostic lists incoming lines that ignore blockage data.
var DefaultLineAgnostic = []string{"HIJ Freight"}

// Ranking is one ordered suggestion.
type Ranking struct {
	ResourceID      string           `json:"resource_id"`
	ResourceIDs     []string         `json:"resource_ids"`
	Score           float64          `json:"score"`
	Routes          []blockage.Route `json:"routes,omitempty"`
	HistoricalMatch bool             `json:"historical_match"`
	SpecialMatch    bool             `json:"special_match"`
	Partition       Partition        `json:"partition,omitempty"`
	Group           string           `json:"group,omitempty"`

	rank int
}

// Engine ranks candidates against a fixed layout and matrix.
type Engine struct {
	layout       layout.Layout
	matrix       *blockage.Matrix
	lineAgnostic map[string]struct{}
}

// NewEngine creates an Engine. A nil lineAgnostic uses DefaultLineAgnostic.
func NewEngine(l layout.Layout, m *blockage.Matrix, lineAgnostic []string) *Engine {
	if lineAgnostic == nil {
		lineAgnostic = DefaultLineAgnostic
	}
	la := make(map[string]struct{}, len(lineAgnostic))
	for _, line := range lineAgnostic {
		la[line] = struct{}{}
	}
	if m == nil {
		m = blockage.New()
	}
	return &Engine{layout: l, matrix: m, lineAgnostic: la}
}

// Layout returns the layout the engine ranks against.
func (e *Engine) Layout() layout.Layout { return e.layout }

// Matrix returns the blockage matrix.
func (e *Engine) Matrix() *blockage.Matrix { return e.matrix }

// IsLineAgnostic reports whether blockage data is ignored for line.
func (e *Engine) IsLineAgnostic(line string) bool {
	_, ok := e.lineAgnostic[line]
	return ok
}

// Rank orders the feasible options for train among free resources. An empty
// incoming line carries no blockage data and ranks like a line-agnostic one.
func (e *Engine) Rank(train model.Train, free []string, incomingLine string) []Ranking {
	if train.IsFreight() {
		return e.rankFreight(train, free)
	}
	return e.rankPassenger(train, free, incomingLine)
}

func (e *Engine) rankFreight(train model.Train, free []string) []Ranking {
	out := make([]Ranking, 0, len(free))
	for _, id := range free {
		if _, ok := e.layout.Kind(id); !ok {
			continue
		}
		var highest bool
		if train.NeedsPlatform {
			highest = e.layout.IsPlatform(id)
		} else {
			highest = e.layout.IsDirectionTrack(train.Direction, id)
		}
		r := Ranking{ResourceID: id, ResourceIDs: []string{id}, Score: FreightLowest, Partition: PartitionLowest}
		if highest {
			r.Score, r.Partition = FreightHighest, PartitionHighest
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return model.LessResourceID(out[i].ResourceID, out[j].ResourceID)
	})
	return out
}

func (e *Engine) rankPassenger(train model.Train, free []string, line string) []Ranking {
	agnostic := line == "" || e.IsLineAgnostic(line)
	hist := model.NormalizeResourceID(train.HistoricalResource)
	var out []Ranking
	for _, c := range e.Candidates(train, free) {
		r := Ranking{
			ResourceID:  c.Primary(),
			ResourceIDs: c.ResourceIDs,
			Group:       c.Group,
			rank:        e.layout.TieRank(train.Direction, c.Group),
		}
		if !agnostic {
			routes := e.routes(line, c)
			score, ok := blockage.Score(routes)
			if !ok {
				continue
			}
			r.Score, r.Routes = score, routes
		}
		r.HistoricalMatch = hist != "" && c.Has(hist)
		if train.IsTerminating {
			for _, id := range c.ResourceIDs {
				if e.layout.IsTerminating(train.Direction, id) {
					r.SpecialMatch = true
					break
				}
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j], agnostic)
	})
	return out
}

// routes looks the candidate up by its own id first so a matrix may key
// single platforms of a pair independently, then by its group.
func (e *Engine) routes(line string, c Candidate) []blockage.Route {
	if len(c.ResourceIDs) == 1 {
		if r := e.matrix.Routes(line, c.ResourceIDs[0]); len(r) > 0 {
			return r
		}
	}
	return e.matrix.Routes(line, c.Group)
}

func less(a, b Ranking, agnostic bool) bool {
	if a.HistoricalMatch != b.HistoricalMatch {
		return a.HistoricalMatch
	}
	if a.SpecialMatch != b.SpecialMatch {
		return a.SpecialMatch
	}
	if !agnostic {
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
	}
	return model.LessResourceID(a.ResourceID, b.ResourceID)
}
