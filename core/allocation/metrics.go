package allocation

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	resourcesGauge   *prometheus.GaugeVec
	waitingGauge     prometheus.Gauge
	suggestionsTotal *prometheus.CounterVec
	departureAlerts  prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, *prometheus.GaugeVec, prometheus.Gauge, *prometheus.CounterVec, prometheus.Counter) {
	ops := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_operations_total",
			Help: "Number of allocation operations by outcome",
		},
		[]string{"operation", "outcome"},
	)
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocation_operation_duration_seconds",
			Help:    "Duration of allocation operations including persistence",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	res := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "station_resources",
			Help: "Number of resources per occupancy state",
		},
		[]string{"state"},
	)
	wait := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "station_waiting_trains",
			Help: "Number of trains in the waiting queue",
		},
	)
	sug := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waiting_suggestions_total",
			Help: "Number of waiting-queue suggestions by outcome",
		},
		[]string{"outcome"},
	)
	alerts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "departure_alerts_total",
			Help: "Number of departure alerts raised",
		},
	)
	return ops, lat, res, wait, sug, alerts
}

func init() {
	operationsTotal, operationLatency, resourcesGauge, waitingGauge, suggestionsTotal, departureAlerts = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers allocation metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(operationsTotal, operationLatency, resourcesGauge, waitingGauge, suggestionsTotal, departureAlerts)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	operationsTotal, operationLatency, resourcesGauge, waitingGauge, suggestionsTotal, departureAlerts = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
