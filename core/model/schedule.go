package model

import (
	"strings"
	"time"
)

// DwellTime returns the stop duration between two HH:MM clock times. A
// departure earlier than the arrival is taken to be on the next day. Malformed
// input yields zero.
func DwellTime(arrival, departure string) time.Duration {
	a, err := time.Parse("15:04", strings.TrimSpace(arrival))
	if err != nil {
		return 0
	}
	d, err := time.Parse("15:04", strings.TrimSpace(departure))
	if err != nil {
		return 0
	}
	if d.Before(a) {
		d = d.Add(24 * time.Hour)
	}
	return d.Sub(a)
}
