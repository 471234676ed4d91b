package events

import "time"

// Event type names used on every sink.
const (
	TypeDepartureAlert     = "departure_alert"
	TypeSuggestionIssued   = "suggestion_issued"
	TypeSuggestionExpired  = "suggestion_expired"
	TypeSuggestionAccepted = "suggestion_accepted"
	TypeStateChanged       = "state_changed"
)

// DepartureAlert is raised when the dwell time of a train has elapsed. It
// never mutates state.
type DepartureAlert struct {
	TrainNumber string `json:"train_number"`
	TrainName   string `json:"train_name"`
	PlatformID  string `json:"platform_id"`
}

// Suggestion proposes resources for the train at the head of the queue.
type Suggestion struct {
	ID           string    `json:"id"`
	TrainID      string    `json:"train_id"`
	TrainName    string    `json:"train_name"`
	IncomingLine string    `json:"incoming_line,omitempty"`
	ResourceIDs  []string  `json:"resource_ids"`
	Score        float64   `json:"score"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// SuggestionResolved reports an expired or accepted suggestion.
type SuggestionResolved struct {
	ID          string   `json:"id"`
	TrainID     string   `json:"train_id"`
	ResourceIDs []string `json:"resource_ids"`
}

// StateChanged carries the operation that replaced the state document.
type StateChanged struct {
	Operation   string   `json:"operation"`
	TrainID     string   `json:"train_id,omitempty"`
	ResourceIDs []string `json:"resource_ids,omitempty"`
}

// Envelope wraps a payload with its type for transports.
type Envelope struct {
	Type    string    `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Sink receives events. Implementations must not block the caller for long;
// delivery is best effort.
type Sink interface {
	Publish(eventType string, payload any)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(string, any) {}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Publish forwards the event to every sink.
func (m MultiSink) Publish(eventType string, payload any) {
	for _, s := range m {
		if s != nil {
			s.Publish(eventType, payload)
		}
	}
}

// Recorder keeps published events in memory. It is intended for tests.
type Recorder struct {
	ch chan Envelope
}

// NewRecorder creates a Recorder buffering up to size events.
func NewRecorder(size int) *Recorder { return &Recorder{ch: make(chan Envelope, size)} }

// Publish stores the event, dropping it when the buffer is full.
func (r *Recorder) Publish(eventType string, payload any) {
	select {
	case r.ch <- Envelope{Type: eventType, Time: time.Now(), Payload: payload}:
	default:
	}
}

// Events exposes the recorded events.
func (r *Recorder) Events() <-chan Envelope { return r.ch }
