// Package telemetry provides observability instrumentation for EdgeForge.
//
// It wires three concerns into a single setup path: structured logging
// (zerolog), distributed tracing (OpenTelemetry), and metrics (Prometheus).
// Initialize at startup and register the event sink on the executor:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	exec := engine.NewExecutor(reg, store, tel.Logger,
//	    engine.WithEventSink(tel.EventSink().Handle))
//
// The sink translates node status transitions into logs and per-kind
// metrics (node durations, readiness waits, outcomes). Run-level metrics
// and spans are recorded by the command layer around Driver calls.
//
// Metrics are exposed over HTTP at the configured listen address when
// enabled. Tracing supports OTLP/gRPC for collectors, stdout for
// development, and "none" for tests.
package telemetry
