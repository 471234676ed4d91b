package model

import (
	"fmt"
	"strings"
)

// Direction is the running direction of a train through the station.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// ParseDirection accepts UP/DOWN in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return DirectionUp, nil
	case "DOWN", "DN":
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Length classifies the rake length of a train.
type Length string

const (
	LengthShort Length = "short"
	LengthLong  Length = "long"
	LengthOther Length = "other"
)

// ParseLength maps free-form master data to a Length. Unknown values map to
// LengthOther.
func ParseLength(s string) Length {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "short":
		return LengthShort
	case "long":
		return LengthLong
	default:
		return LengthOther
	}
}

// TrainType separates passenger and freight services.
type TrainType string

const (
	TrainPassenger TrainType = "passenger"
	TrainFreight   TrainType = "freight"
)

// Train is the scoring view of a train from the master list.
type Train struct {
	ID                 string    `json:"train_id"`
	Name               string    `json:"name"`
	Type               TrainType `json:"type"`
	IsTerminating      bool      `json:"is_terminating"`
	Length             Length    `json:"length"`
	NeedsPlatform      bool      `json:"needs_platform"`
	Direction          Direction `json:"direction"`
	HistoricalResource string    `json:"historical_resource,omitempty"`
	Zone               string    `json:"zone,omitempty"`
	ScheduledArrival   string    `json:"scheduled_arrival,omitempty"`
	ScheduledDeparture string    `json:"scheduled_departure,omitempty"`
}

// IsFreight reports whether the train is a goods service.
func (t Train) IsFreight() bool { return t.Type == TrainFreight }

// IsLong reports whether the train needs a long-compatible resource.
func (t Train) IsLong() bool { return t.Length == LengthLong }

// Validate checks the fields the allocation engine relies on.
func (t Train) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("train id is required")
	}
	if t.Direction != DirectionUp && t.Direction != DirectionDown {
		return fmt.Errorf("train %s: invalid direction %q", t.ID, t.Direction)
	}
	switch t.Type {
	case TrainPassenger, TrainFreight:
	default:
		return fmt.Errorf("train %s: invalid type %q", t.ID, t.Type)
	}
	return nil
}
