package telemetry

import (
	"context"

	"github.com/rs/zerolog"
)

// Telemetry bundles the logger, tracer, and metrics for one process.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// New builds a telemetry instance from configuration.
func New(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// EventSink returns a sink wired to this instance's logger and metrics,
// suitable for the executor's event callback.
func (t *Telemetry) EventSink() *EventSink {
	return NewEventSink(t.Logger.With().Str("component", "executor").Logger(), t.Metrics)
}

// Shutdown flushes and stops telemetry components. The metrics server keeps
// serving until process exit so late scrapes still succeed.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}
