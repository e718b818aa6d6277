package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeforge/edgeforge/pkg/config"
	"github.com/edgeforge/edgeforge/pkg/engine"
	"github.com/edgeforge/edgeforge/pkg/policy"
	"github.com/edgeforge/edgeforge/pkg/providers/cloudsim"
	"github.com/edgeforge/edgeforge/pkg/stores"
	"github.com/edgeforge/edgeforge/pkg/telemetry"
)

// app wires the full stack for one command invocation: config, telemetry,
// state store, simulated cloud, policy gate, and the convergence driver.
type app struct {
	cfg    *config.Config
	specs  []engine.ResourceSpec
	store  *stores.SQLiteStore
	cloud  *cloudsim.Cloud
	driver *engine.Driver
	tel    *telemetry.Telemetry

	simPath string
}

// newApp loads the config and builds the stack. Callers must Close.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewLoader().Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	specs, err := config.Expand(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to expand site topology: %w", err)
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.Logging.Level = cfg.Log.Level
	telCfg.Logging.Format = cfg.Log.Format
	if logLevel != "" {
		telCfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		telCfg.Logging.Format = logFormat
	}
	tel, err := telemetry.New(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Engine.StatePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}

	// The simulated cloud persists its world next to the state database so
	// consecutive invocations see the same resources.
	simPath := cfg.Engine.StatePath + ".sim.json"
	cloud := cloudsim.New()
	if err := cloud.LoadFile(simPath); err != nil {
		store.Close()
		return nil, err
	}

	reg := cloudsim.NewRegistry(cloud)

	execOpts := []engine.ExecutorOption{
		engine.WithConcurrency(cfg.Engine.Concurrency),
		engine.WithEventSink(tel.EventSink().Handle),
	}
	if w := cfg.Engine.Wait.Spec(); w != nil {
		execOpts = append(execOpts, engine.WithDefaultWait(*w))
	}
	exec := engine.NewExecutor(reg, store, tel.Logger, execOpts...)

	driverOpts := []engine.DriverOption{engine.WithRunStore(store)}
	if cfg.Policy.Enabled {
		gate, err := policy.NewEngine(tel.Logger.With().Str("component", "policy").Logger())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
		}
		if err := gate.LoadPaths(ctx, cfg.Policy.Paths); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		driverOpts = append(driverOpts, engine.WithPolicyGate(gate))
	}

	driver := engine.NewDriver(reg, store, exec, tel.Logger, driverOpts...)

	return &app{
		cfg:     cfg,
		specs:   specs,
		store:   store,
		cloud:   cloud,
		driver:  driver,
		tel:     tel,
		simPath: simPath,
	}, nil
}

// instrumentRun wraps a converge or destroy call with a trace span and
// run-level metrics.
func (a *app) instrumentRun(ctx context.Context, op string, fn func(context.Context) (*engine.RunReport, error)) (*engine.RunReport, error) {
	ctx, span := a.tel.Tracer.Start(ctx, op)
	defer span.End()

	a.tel.Metrics.RecordRunStarted()
	started := time.Now()
	report, err := fn(ctx)

	status := "failed"
	if report != nil {
		status = string(report.Status)
	}
	a.tel.Metrics.RecordRunCompleted(status, time.Since(started))
	telemetry.RecordError(span, err)
	return report, err
}

// saveCloud persists the simulated world after a mutating command.
func (a *app) saveCloud() error {
	return a.cloud.SaveFile(a.simPath)
}

func (a *app) Close(ctx context.Context) {
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	if err := a.store.Close(); err != nil {
		a.tel.Logger.Warn().Err(err).Msg("state store close failed")
	}
}
