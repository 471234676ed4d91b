package metrics

// Package metrics defines the recorder interfaces for allocation metrics.
// Sinks like PromSink and InfluxSink record assignments, departures, queue
// movements and suggestion outcomes and can be combined with NewMultiSink.
// The factory helpers return a MultiSink automatically when multiple sinks
// are configured.
