package scoring

import "github.com/kilianp07/stationctl/core/model"

// Candidate is one structurally feasible placement: a single resource or a
// pair of platforms holding one long rake.
type Candidate struct {
	ResourceIDs []string
	Group       string
}

// Primary is the resource carrying the primary assignment.
func (c Candidate) Primary() string { return c.ResourceIDs[0] }

// Has reports whether id is part of the candidate.
func (c Candidate) Has(id string) bool {
	for _, r := range c.ResourceIDs {
		if r == id {
			return true
		}
	}
	return false
}

// Candidates applies structural eligibility. Short trains may use any single
// free platform. Long trains may use a free long-compatible platform or a pair
// whose halves are both free; half a pair is never offered.
func (e *Engine) Candidates(train model.Train, free []string) []Candidate {
	isFree := make(map[string]bool, len(free))
	for _, id := range free {
		isFree[id] = true
	}
	var out []Candidate
	if !train.IsLong() {
		for _, id := range free {
			if e.layout.IsPlatform(id) {
				out = append(out, Candidate{ResourceIDs: []string{id}, Group: e.layout.Group(id)})
			}
		}
		return out
	}
	for _, id := range free {
		if e.layout.IsLongSingle(id) {
			out = append(out, Candidate{ResourceIDs: []string{id}, Group: e.layout.Group(id)})
		}
	}
	for _, p := range e.layout.Pairs {
		if isFree[p.A] && isFree[p.B] {
			out = append(out, Candidate{ResourceIDs: []string{p.A, p.B}, Group: p.Group()})
		}
	}
	return out
}
