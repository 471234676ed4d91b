package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/stationctl/core/factory"
	coremetrics "github.com/kilianp07/stationctl/core/metrics"
)

// influxConf is the "conf" block of an influx sink entry.
type influxConf struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

func (c influxConf) validate() error {
	if c.URL == "" || c.Bucket == "" {
		return fmt.Errorf("influx sink requires url and bucket")
	}
	return nil
}

func init() {
	_ = coremetrics.RegisterMetricsSink(coremetrics.SinkNop, func(map[string]any) (coremetrics.MetricsSink, error) {
		return coremetrics.NopSink{}, nil
	})
	// Every prometheus entry shares the default registerer, so repeated
	// entries reuse the same collectors.
	_ = coremetrics.RegisterMetricsSink(coremetrics.SinkPrometheus, func(map[string]any) (coremetrics.MetricsSink, error) {
		return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
	})
	_ = coremetrics.RegisterMetricsSink(coremetrics.SinkInflux, func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c influxConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		return NewInfluxSinkWithFallback(c.URL, c.Token, c.Org, c.Bucket), nil
	})
}
