package metrics

import (
	"fmt"

	"github.com/kilianp07/stationctl/core/factory"
)

// Built-in sink names registered by infra/metrics.
const (
	SinkNop        = "nop"
	SinkPrometheus = "prometheus"
	SinkInflux     = "influx"
)

var sinkRegistry = factory.NewRegistry[MetricsSink]()

// RegisterMetricsSink adds a sink factory under name.
func RegisterMetricsSink(name string, f factory.Factory[MetricsSink]) error {
	return sinkRegistry.Register(name, f)
}

// NewMetricsSink builds the sinks listed in cfgs. No entries yields NopSink,
// one entry yields that sink and several are wrapped in a MultiSink with the
// nop entries left out.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	var sinks []MetricsSink
	for i, c := range cfgs {
		s, err := sinkRegistry.Create(c)
		if err != nil {
			return nil, fmt.Errorf("metrics sink %d (%s): %w", i, c.Type, err)
		}
		if _, nop := s.(NopSink); nop && len(cfgs) > 1 {
			continue
		}
		sinks = append(sinks, s)
	}
	switch len(sinks) {
	case 0:
		return NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
