package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ResourceKind distinguishes platforms from non-platform tracks.
type ResourceKind string

const (
	KindPlatform ResourceKind = "platform"
	KindTrack    ResourceKind = "track"
)

// OccupancyState is the lifecycle state of a single resource.
type OccupancyState string

const (
	StateFree        OccupancyState = "free"
	StateOccupied    OccupancyState = "occupied"
	StateMaintenance OccupancyState = "maintenance"
)

// Assignment records the train currently holding a resource.
type Assignment struct {
	TrainID       string    `json:"train_id"`
	TrainName     string    `json:"train_name"`
	IncomingLine  string    `json:"incoming_line,omitempty"`
	ActualArrival string    `json:"actual_arrival,omitempty"`
	IsPrimary     bool      `json:"is_primary"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// Resource is a platform or track together with its occupancy.
type Resource struct {
	ID               string         `json:"id"`
	Kind             ResourceKind   `json:"kind"`
	Group            string         `json:"group"`
	State            OccupancyState `json:"state"`
	Occupant         *Assignment    `json:"occupant,omitempty"`
	LinkedResourceID string         `json:"linked_resource_id,omitempty"`
}

// IsFree reports whether the resource can accept a train.
func (r Resource) IsFree() bool { return r.State == StateFree }

// NormalizeResourceID converts display and master-data spellings to the
// canonical short form: "Platform 3" -> "P3", "Track 7" -> "T7", "p1a" -> "P1A".
// A bare number is read as a platform and only the first entry of a
// comma-separated list is kept.
func NormalizeResourceID(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return ""
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "platform"):
		return "P" + strings.ToUpper(strings.TrimSpace(s[len("platform"):]))
	case strings.HasPrefix(lower, "track"):
		return "T" + strings.ToUpper(strings.TrimSpace(s[len("track"):]))
	}
	if unicode.IsDigit(rune(s[0])) {
		return "P" + strings.ToUpper(s)
	}
	return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
}

var resourceIDPattern = regexp.MustCompile(`^[A-Z]+[0-9]+[A-Z]*$`)

// ValidResourceID reports whether a normalised id has the shape of a station
// resource: a letter prefix, a number and an optional letter suffix ("P3",
// "T12", "P1A").
func ValidResourceID(id string) bool {
	return resourceIDPattern.MatchString(id)
}

// ResourceKey splits an id such as "P12A" into its prefix, number and suffix.
// Ids without a number yield -1.
func ResourceKey(id string) (prefix string, num int, suffix string) {
	start := strings.IndexFunc(id, unicode.IsDigit)
	if start < 0 {
		return id, -1, ""
	}
	end := start
	for end < len(id) && unicode.IsDigit(rune(id[end])) {
		end++
	}
	n, err := strconv.Atoi(id[start:end])
	if err != nil {
		return id, -1, ""
	}
	return id[:start], n, id[end:]
}

// LessResourceID orders ids by prefix, then number, then suffix.
func LessResourceID(a, b string) bool {
	pa, na, sa := ResourceKey(a)
	pb, nb, sb := ResourceKey(b)
	if pa != pb {
		return pa < pb
	}
	if na != nb {
		return na < nb
	}
	return sa < sb
}
