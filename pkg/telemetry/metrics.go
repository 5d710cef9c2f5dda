package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for verification runs.
// A disabled Metrics is safe to call and records nothing.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	stagesCompleted *prometheus.CounterVec

	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
	stepFailures  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	buckets := cfg.Buckets
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
				Name:      "runs_completed_total",
				Help:      "Total number of verification runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of verification runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		stagesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_completed_total",
				Help:      "Total number of stages completed",
			},
			[]string{"stage", "kind", "status"},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of stage steps executed",
			},
			[]string{"stage", "step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of stage steps in seconds",
				Buckets:   buckets,
			},
			[]string{"stage", "step"},
		),
		stepFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_failures_total",
				Help:      "Total number of failed steps by exit code",
			},
			[]string{"stage", "step", "code"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.stagesCompleted,
		m.stepsExecuted,
		m.stepDuration,
		m.stepFailures,
	)

	return m
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStage records the outcome of one stage.
func (m *Metrics) RecordStage(stage, kind, status string) {
	if m.stagesCompleted == nil {
		return
	}
	m.stagesCompleted.WithLabelValues(stage, kind, status).Inc()
}

// RecordStep records one executed step. A non-zero exit code also counts as a failure.
func (m *Metrics) RecordStep(stage, step string, exitCode int, duration time.Duration) {
	if m.stepsExecuted == nil {
		return
	}
	status := "succeeded"
	if exitCode != 0 {
		status = "failed"
		m.stepFailures.WithLabelValues(stage, step, strconv.Itoa(exitCode)).Inc()
	}
	m.stepsExecuted.WithLabelValues(stage, step, status).Inc()
	m.stepDuration.WithLabelValues(stage, step).Observe(duration.Seconds())
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current registry to the configured textfile path.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
