package metrics

import "github.com/kilianp07/stationctl/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddr exposes /metrics when non-empty, e.g. ":9100".
	PrometheusAddr string `json:"prometheus_addr"`
}
