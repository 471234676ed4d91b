package trainmaster

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/stationctl/core/model"
)

// Record is one row of the master schedule as it appears in the source
// files. Keys follow the railway master export.
type Record struct {
	TrainNo       cell   `yaml:"TRAIN NO" json:"TRAIN NO"`
	TrainName     string `yaml:"TRAIN NAME" json:"TRAIN NAME"`
	Length        string `yaml:"LENGTH,omitempty" json:"LENGTH,omitempty"`
	Direction     string `yaml:"DIRECTION" json:"DIRECTION"`
	PlatformNo    cell   `yaml:"PLATFORM NO,omitempty" json:"PLATFORM NO,omitempty"`
	IsTerminating flag   `yaml:"ISTERMINATING,omitempty" json:"ISTERMINATING,omitempty"`
	Arrival       string `yaml:"ARRIVAL AT KGP,omitempty" json:"ARRIVAL AT KGP,omitempty"`
	Departure     string `yaml:"DEPARTURE FROM KGP,omitempty" json:"DEPARTURE FROM KGP,omitempty"`
	Zone          string `yaml:"ZONE,omitempty" json:"ZONE,omitempty"`
	// Type and NeedsPlatform are written for trains added at runtime. When
	// Type is absent the train name decides.
	Type          string `yaml:"TYPE,omitempty" json:"TYPE,omitempty"`
	NeedsPlatform *flag  `yaml:"NEEDS PLATFORM,omitempty" json:"NEEDS PLATFORM,omitempty"`
}

// IsFreight reports whether the record is a goods service: the TYPE column
// when present, the train name otherwise.
func (r Record) IsFreight() (bool, error) {
	switch strings.ToLower(strings.TrimSpace(r.Type)) {
	case "":
		return strings.Contains(r.TrainName, "Goods") || strings.Contains(r.TrainName, "Freight"), nil
	case string(model.TrainFreight), "goods":
		return true, nil
	case string(model.TrainPassenger):
		return false, nil
	default:
		return false, fmt.Errorf("unknown TYPE %q", r.Type)
	}
}

// Train converts the record to the scoring view. A missing length reads as
// long; the historical platform is the first of a comma separated list.
func (r Record) Train() (model.Train, error) {
	id := strings.TrimSpace(string(r.TrainNo))
	if id == "" {
		return model.Train{}, fmt.Errorf("record without TRAIN NO")
	}
	dir, err := model.ParseDirection(r.Direction)
	if err != nil {
		return model.Train{}, fmt.Errorf("train %s: %w", id, err)
	}
	length := model.LengthLong
	if strings.TrimSpace(r.Length) != "" {
		length = model.ParseLength(r.Length)
	}
	t := model.Train{
		ID:                 id,
		Name:               strings.TrimSpace(r.TrainName),
		Type:               model.TrainPassenger,
		IsTerminating:      bool(r.IsTerminating),
		Length:             length,
		NeedsPlatform:      true,
		Direction:          dir,
		HistoricalResource: strings.TrimSpace(strings.Split(string(r.PlatformNo), ",")[0]),
		Zone:               strings.TrimSpace(r.Zone),
		ScheduledArrival:   strings.TrimSpace(r.Arrival),
		ScheduledDeparture: strings.TrimSpace(r.Departure),
	}
	if t.Zone == "" {
		t.Zone = "SER"
	}
	freight, err := r.IsFreight()
	if err != nil {
		return model.Train{}, fmt.Errorf("train %s: %w", id, err)
	}
	if freight {
		t.Type = model.TrainFreight
		t.NeedsPlatform = r.NeedsPlatform != nil && bool(*r.NeedsPlatform)
	}
	return t, nil
}

// FromTrain builds the master record for t. The type is always written so
// a reload does not fall back to the name.
func FromTrain(t model.Train) Record {
	r := Record{
		TrainNo:       cell(t.ID),
		TrainName:     t.Name,
		Length:        string(t.Length),
		Direction:     string(t.Direction),
		PlatformNo:    cell(t.HistoricalResource),
		IsTerminating: flag(t.IsTerminating),
		Arrival:       t.ScheduledArrival,
		Departure:     t.ScheduledDeparture,
		Zone:          t.Zone,
		Type:          string(t.Type),
	}
	if t.IsFreight() {
		np := flag(t.NeedsPlatform)
		r.NeedsPlatform = &np
	}
	return r
}

// cell is a string that also accepts numeric values.
type cell string

func (c *cell) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", n.Line)
	}
	*c = cell(n.Value)
	return nil
}

func (c *cell) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = cell(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*c = cell(n.String())
	return nil
}

// flag is a bool that also accepts yes/no and 1/0 strings.
type flag bool

func parseFlag(s string) (flag, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0", "", "null":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func (f *flag) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseFlag(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*f = v
	return nil
}

func (f *flag) UnmarshalJSON(b []byte) error {
	v, err := parseFlag(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
