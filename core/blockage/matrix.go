// Package blockage holds the route blockage matrix: for each incoming line and
// resource group, the alternative routes a train can take and which platforms
// each route fully or partially blocks.
package blockage

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Route lists the platforms a single route blocks.
type Route struct {
	Full    []string `json:"full" yaml:"full"`
	Partial []string `json:"partial" yaml:"partial"`
}

// Cost weighs full blockages at 1 and partial ones at 0.5.
func (r Route) Cost() float64 {
	return float64(len(r.Full)) + 0.5*float64(len(r.Partial))
}

// Score is the mean route cost. It returns false when there are no routes.
func Score(routes []Route) (float64, bool) {
	if len(routes) == 0 {
		return 0, false
	}
	costs := make([]float64, len(routes))
	for i, r := range routes {
		costs[i] = r.Cost()
	}
	return stat.Mean(costs, nil), true
}

// Matrix maps (incoming line, group) to routes. It is read-only once built.
type Matrix struct {
	lines []string
	cells map[string]map[string][]Route
}

// New returns an empty matrix.
func New() *Matrix {
	return &Matrix{cells: make(map[string]map[string][]Route)}
}

// Set stores the routes of one cell. Lines keep their first insertion order.
func (m *Matrix) Set(line, group string, routes []Route) {
	row, ok := m.cells[line]
	if !ok {
		row = make(map[string][]Route)
		m.cells[line] = row
		m.lines = append(m.lines, line)
	}
	row[group] = routes
}

// AddLine registers a line without any cells.
func (m *Matrix) AddLine(line string) {
	if _, ok := m.cells[line]; ok {
		return
	}
	m.cells[line] = make(map[string][]Route)
	m.lines = append(m.lines, line)
}

// Routes returns the routes of a cell. A missing cell and a cell without
// routes both yield nil.
func (m *Matrix) Routes(line, group string) []Route {
	if m == nil {
		return nil
	}
	return m.cells[line][group]
}

// HasLine reports whether the line appears in the matrix.
func (m *Matrix) HasLine(line string) bool {
	if m == nil {
		return false
	}
	_, ok := m.cells[line]
	return ok
}

// Lines returns the incoming lines in source order.
func (m *Matrix) Lines() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.lines...)
}

// Groups returns the groups with at least one cell for the line, sorted.
func (m *Matrix) Groups(line string) []string {
	if m == nil {
		return nil
	}
	var out []string
	for g := range m.cells[line] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
