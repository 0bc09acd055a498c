package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for cocinero runs.
type Metrics struct {
	config MetricsConfig

	// Plan metrics
	plansBuilt *prometheus.CounterVec

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec

	// Hook metrics
	hooksExecuted *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Last run, for textfile consumers
	lastRunTimestamp prometheus.Gauge
	lastRunSuccess   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = DefaultDurationBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansBuilt: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_built_total",
				Help:      "Total number of plan builds by result",
			},
			[]string{"result"},
		),

		runsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs reaching a terminal state",
			},
			[]string{"state"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"state"},
		),

		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of actions executed",
			},
			[]string{"kind", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action execution in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		hooksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hooks_executed_total",
				Help:      "Total number of post-provision hook calls",
			},
			[]string{"hook", "status"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations",
			},
			[]string{"policy", "severity"},
		),

		lastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last finished run",
			},
		),
		lastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "Whether the last run completed (1) or failed (0)",
			},
		),
	}

	registry.MustRegister(
		m.plansBuilt,
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.actionsExecuted,
		m.actionDuration,
		m.hooksExecuted,
		m.errorsByKind,
		m.errorsByCode,
		m.policyViolations,
		m.lastRunTimestamp,
		m.lastRunSuccess,
	)

	return m, nil
}

// RecordPlanBuilt records a plan build attempt.
func (m *Metrics) RecordPlanBuilt(ok bool) {
	if m.plansBuilt == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.plansBuilt.WithLabelValues(result).Inc()
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Inc()
}

// RecordRunCompleted records a finished run with its state and duration.
func (m *Metrics) RecordRunCompleted(state string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(state).Inc()
	m.runDuration.WithLabelValues(state).Observe(duration.Seconds())
	m.lastRunTimestamp.SetToCurrentTime()
	if state == "completed" {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
}

// RecordActionExecution records the execution of an action.
func (m *Metrics) RecordActionExecution(kind, status string, duration time.Duration) {
	if m.actionsExecuted == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(kind, status).Inc()
	m.actionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordHook records a post-provision hook call.
func (m *Metrics) RecordHook(hook string, ok bool) {
	if m.hooksExecuted == nil {
		return
	}
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	m.hooksExecuted.WithLabelValues(hook, status).Inc()
}

// RecordError records an error by kind and optionally by code.
func (m *Metrics) RecordError(kind, code string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// RecordPolicyViolation records a policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Gatherer returns the registry backing the metrics, or nil when disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes all metrics to the configured textfile path for the
// node_exporter textfile collector. It does nothing when metrics are disabled
// or no path is configured.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.TextfilePath, m.registry)
}
