package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcome labels.
const (
	OutcomeExecuted = "executed"
	OutcomeCached   = "cached"
	OutcomeFailed   = "failed"
)

// Validation result labels.
const (
	ValidationHit  = "hit"
	ValidationMiss = "miss"
	ValidationCold = "cold"
)

// Metrics provides Prometheus metrics for build runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Task metrics
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	validations  *prometheus.CounterVec
	activeTasks  prometheus.Gauge

	// Error metrics
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of build runs by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of build runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		tasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of tasks by outcome (executed, cached, failed)",
			},
			[]string{"outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task evaluation in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Trace validation results (hit, miss, cold)",
			},
			[]string{"result"},
		),
		activeTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_tasks",
				Help:      "Number of tasks currently being evaluated",
			},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of task failures by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.tasksTotal,
		m.taskDuration,
		m.validations,
		m.activeTasks,
		m.errorsByCode,
	)

	return m, nil
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTask records the outcome of one task evaluation.
func (m *Metrics) RecordTask(outcome string, duration time.Duration) {
	if m == nil || m.tasksTotal == nil {
		return
	}
	m.tasksTotal.WithLabelValues(outcome).Inc()
	m.taskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordValidation records the result of checking a cached trace.
func (m *Metrics) RecordValidation(result string) {
	if m == nil || m.validations == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

// RecordError records a task failure by error code.
func (m *Metrics) RecordError(code string) {
	if m == nil || m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// TaskStarted increments the active task gauge.
func (m *Metrics) TaskStarted() {
	if m == nil || m.activeTasks == nil {
		return
	}
	m.activeTasks.Inc()
}

// TaskFinished decrements the active task gauge.
func (m *Metrics) TaskFinished() {
	if m == nil || m.activeTasks == nil {
		return
	}
	m.activeTasks.Dec()
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	registry := m.Registry()
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes metrics over HTTP until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, logger *Logger) error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return nil
}
