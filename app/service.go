// Package app wires configuration, adapters and the allocation controller
// into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/stationctl/api/station"
	"github.com/kilianp07/stationctl/api/stream"
	"github.com/kilianp07/stationctl/config"
	"github.com/kilianp07/stationctl/core/allocation"
	"github.com/kilianp07/stationctl/core/audit"
	"github.com/kilianp07/stationctl/core/blockage"
	"github.com/kilianp07/stationctl/core/events"
	coremetrics "github.com/kilianp07/stationctl/core/metrics"
	coremon "github.com/kilianp07/stationctl/core/monitoring"
	"github.com/kilianp07/stationctl/core/scoring"
	corestore "github.com/kilianp07/stationctl/core/store"
	"github.com/kilianp07/stationctl/core/trains"
	"github.com/kilianp07/stationctl/infra/auth"
	"github.com/kilianp07/stationctl/infra/logger"
	"github.com/kilianp07/stationctl/infra/metrics"
	"github.com/kilianp07/stationctl/infra/monitoring"
	"github.com/kilianp07/stationctl/infra/mqtt"
	"github.com/kilianp07/stationctl/infra/store"
	"github.com/kilianp07/stationctl/infra/tracing"
	"github.com/kilianp07/stationctl/infra/trainmaster"
	"github.com/kilianp07/stationctl/internal/eventbus"
	"github.com/kilianp07/stationctl/jobs/mastersync"
)

// Service owns the controller and every adapter around it.
type Service struct {
	Controller *allocation.Controller

	cfg       *config.Config
	bus       *eventbus.Bus[events.Envelope]
	publisher *mqtt.Publisher
	store     corestore.StateStore
	audit     audit.Store
	metrics   coremetrics.MetricsSink
	tracing   func(context.Context) error
	monitor   coremon.Monitor
	handler   http.Handler
	sync      *mastersync.Job
	log       logger.Logger
	closeLog  func() error
}

// NewEngine builds the scoring engine from the station section.
func NewEngine(cfg config.StationConfig) (*scoring.Engine, error) {
	m := blockage.New()
	if cfg.MatrixPath != "" {
		var err error
		if m, err = blockage.Load(cfg.MatrixPath); err != nil {
			return nil, fmt.Errorf("blockage matrix: %w", err)
		}
	}
	cfg.SetDefaults()
	return scoring.NewEngine(*cfg.Layout, m, cfg.LineAgnostic), nil
}

// OpenTrains returns the master read from TrainsURL or TrainsPath, or an
// empty in-memory master when neither is set.
func OpenTrains(ctx context.Context, cfg config.StationConfig, log logger.Logger) (trains.Directory, error) {
	switch {
	case cfg.TrainsURL != "":
		return trainmaster.LoadURL(ctx, cfg.TrainsURL, auth.NewHTTPClient(cfg.MasterAuth), log)
	case cfg.TrainsPath != "":
		return trainmaster.Load(cfg.TrainsPath, log)
	default:
		return trains.NewMemoryDirectory(), nil
	}
}

// New creates a Service from the configuration. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	closeLog := logger.Configure(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	s := &Service{cfg: cfg, log: logger.New("service"), bus: eventbus.New[events.Envelope](), closeLog: closeLog}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.monitor, err = monitoring.NewSentryMonitor(cfg.Sentry); err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(s.monitor)

	if s.tracing, err = tracing.Init(ctx, cfg.Tracing, logger.New("tracing")); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	engine, err := NewEngine(cfg.Station)
	if err != nil {
		return nil, err
	}
	master, err := OpenTrains(ctx, cfg.Station, logger.New("trainmaster"))
	if err != nil {
		return nil, err
	}
	if s.store, err = store.New(cfg.Store); err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	if s.audit, err = audit.New(cfg.Audit); err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	if s.metrics, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	sinks := events.MultiSink{eventbus.NewSink(s.bus)}
	if cfg.MQTT.Broker != "" {
		if s.publisher, err = mqtt.NewPublisher(cfg.MQTT); err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		sinks = append(sinks, s.publisher)
	}

	s.Controller, err = allocation.NewController(ctx, allocation.Deps{
		Engine: engine,
		Store:  s.store,
		Trains: master,
		Sink:   sinks,
		Logger: logger.New("allocation"),
		Audit:  s.audit,
	}, allocation.Config{
		SuggestionTTL: cfg.Waiting.SuggestionTTL(),
		TopK:          cfg.Waiting.TopK,
		RearmOnStart:  cfg.Station.RearmOnStart,
	})
	if err != nil {
		return nil, err
	}
	s.Controller.SetMetrics(s.metrics)

	var source mastersync.Reloader
	if r, ok := master.(mastersync.Reloader); ok {
		source = r
	}
	s.sync = mastersync.New(source, s.Controller, cfg.Station.MasterRefresh(), logger.New("mastersync"))

	st := stream.New(s.bus, func() any { return s.Controller.CurrentState() }, logger.New("stream"))
	if len(cfg.HTTP.AllowedOrigins) > 0 {
		st.OriginPatterns = cfg.HTTP.AllowedOrigins
	}
	s.handler = station.New(s.Controller, station.Options{
		Audit:          s.audit,
		Token:          cfg.HTTP.Token,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Health:         s.health,
		Stream:         st,
		Logger:         logger.New("api"),
	})
	return s, nil
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler { return s.handler }

func (s *Service) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := s.store.LoadState(ctx); err != nil && !errors.Is(err, corestore.ErrNoState) {
		return err
	}
	return nil
}

// Run serves the API, and the Prometheus endpoint when configured, until ctx
// is cancelled. The master sync job runs alongside when enabled.
func (s *Service) Run(ctx context.Context) error {
	coremon.Go("mastersync", func() error {
		s.sync.Run(ctx)
		return nil
	})
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		coremon.Go("metrics", func() error {
			err := metrics.StartPromServer(ctx, addr)
			if err != nil {
				s.log.Errorf("prom server: %v", err)
			}
			return err
		})
	}
	srv := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on %s", s.cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			coremon.CaptureException(err, map[string]string{"module": "http"})
		}
		return err
	case <-ctx.Done():
	}
	// streams hold their requests open until the bus closes
	s.bus.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.HTTP.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close stops the controller and releases every adapter.
func (s *Service) Close() error {
	var errs []error
	if s.Controller != nil {
		errs = append(errs, s.Controller.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if c, ok := s.metrics.(interface{ Close() }); ok {
		c.Close()
	}
	if s.tracing != nil {
		tracing.ShutdownWithTimeout(context.Background(), s.tracing, s.log)
	}
	if s.monitor != nil {
		s.monitor.Flush(2 * time.Second)
	}
	if s.closeLog != nil {
		errs = append(errs, s.closeLog())
	}
	return errors.Join(errs...)
}
