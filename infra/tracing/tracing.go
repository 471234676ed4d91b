// Package tracing installs the OpenTelemetry tracer provider used by the
// allocation controller spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kilianp07/stationctl/core/logger"
)

// Config governs how tracing is initialised.
type Config struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"service_name"`
	Exporter    string  `json:"exporter"` // stdout | none
	SampleRatio float64 `json:"sample_ratio"`
	// Output is where the stdout exporter writes; nil means os.Stdout.
	Output io.Writer `json:"-"`
}

// SetDefaults fills the optional fields.
func (c *Config) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "stationctl"
	}
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.SampleRatio == 0 {
		c.SampleRatio = 1
	}
}

// Validate checks the exporter and ratio.
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("tracing: sample_ratio %v outside [0,1]", c.SampleRatio)
	}
	switch strings.ToLower(c.Exporter) {
	case "", "stdout", "none":
		return nil
	default:
		return fmt.Errorf("tracing: unsupported exporter %q", c.Exporter)
	}
}

// Init wires a tracer provider, exporter, propagators and sampler. It
// returns a shutdown function flushing pending spans.
func Init(ctx context.Context, cfg Config, log logger.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logger.Nop{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled || strings.EqualFold(cfg.Exporter, "none") {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debugf("tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "stationctl"),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Infow("tracing enabled", map[string]any{
		"exporter":     cfg.Exporter,
		"service_name": cfg.ServiceName,
		"sample_ratio": cfg.SampleRatio,
	})
	return tp.Shutdown, nil
}

// ShutdownWithTimeout calls shutdown with a bounded timeout and logs failures.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logger.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logger.Nop{}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warnf("tracing shutdown failed: %v", err)
	}
}
