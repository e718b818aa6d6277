package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for EdgeForge convergence runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Node metrics
	nodesExecuted *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
	readinessWait *prometheus.HistogramVec

	// Provider metrics
	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec

	// Drift metrics
	driftDetections *prometheus.CounterVec

	// System metrics
	resourcesManaged *prometheus.GaugeVec
	activeRuns       prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration. When
// metrics are disabled every recording method is a no-op.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of convergence runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of convergence runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of convergence runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		nodesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_executed_total",
				Help:      "Total number of plan nodes executed",
			},
			[]string{"action", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Duration of node execution in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "action"},
		),
		readinessWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "readiness_wait_seconds",
				Help:      "Time spent waiting for resources to become ready",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"kind", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors",
			},
			[]string{"kind", "operation"},
		),

		driftDetections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_detections_total",
				Help:      "Total number of drifted resources detected",
			},
			[]string{"kind", "status"},
		),

		resourcesManaged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resources_managed",
				Help:      "Current number of managed resources",
			},
			[]string{"kind", "status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active convergence runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.nodesExecuted,
		m.nodeDuration,
		m.readinessWait,
		m.providerCalls,
		m.providerErrors,
		m.driftDetections,
		m.resourcesManaged,
		m.activeRuns,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordNodeExecution records a finished plan node.
func (m *Metrics) RecordNodeExecution(kind, action, status string, duration time.Duration) {
	if m.nodesExecuted == nil {
		return
	}
	m.nodesExecuted.WithLabelValues(action, status).Inc()
	m.nodeDuration.WithLabelValues(kind, action).Observe(duration.Seconds())
}

// RecordReadinessWait records how long a node waited for readiness.
func (m *Metrics) RecordReadinessWait(kind string, duration time.Duration) {
	if m.readinessWait == nil {
		return
	}
	m.readinessWait.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordProviderCall records a provider call.
func (m *Metrics) RecordProviderCall(kind, operation string) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(kind, operation).Inc()
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(kind, operation string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(kind, operation).Inc()
}

// RecordDriftDetection records a drift detection result for one resource.
func (m *Metrics) RecordDriftDetection(kind, status string) {
	if m.driftDetections == nil {
		return
	}
	m.driftDetections.WithLabelValues(kind, status).Inc()
}

// SetResourceCount sets the current count of managed resources.
func (m *Metrics) SetResourceCount(kind, status string, count float64) {
	if m.resourcesManaged == nil {
		return
	}
	m.resourcesManaged.WithLabelValues(kind, status).Set(count)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartServer starts an HTTP server exposing the metrics endpoint. The
// server runs until the process exits.
func (m *Metrics) StartServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
