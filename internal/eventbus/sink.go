package eventbus

import (
	"time"

	"github.com/kilianp07/stationctl/core/events"
)

// Sink adapts a Bus of envelopes to events.Sink so controller events reach
// in-process subscribers such as the websocket stream.
type Sink struct {
	Bus *Bus[events.Envelope]
	now func() time.Time
}

// NewSink returns a Sink publishing on bus.
func NewSink(bus *Bus[events.Envelope]) *Sink {
	return &Sink{Bus: bus, now: time.Now}
}

// Publish wraps the payload in an envelope.
func (s *Sink) Publish(eventType string, payload any) {
	s.Bus.Publish(events.Envelope{Type: eventType, Time: s.now().UTC(), Payload: payload})
}

var _ events.Sink = (*Sink)(nil)
