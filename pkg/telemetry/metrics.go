package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus metrics for the CLI runtime. It implements
// core.DispatchObserver so the engine can record dispatch outcomes without
// importing this package.
type Metrics struct {
	config MetricsConfig

	// Dispatch metrics
	commandsDispatched *prometheus.CounterVec
	dispatchDuration   *prometheus.HistogramVec

	// Hook metrics
	hookFailures *prometheus.CounterVec

	// Retry metrics
	retryAttempts *prometheus.CounterVec

	// History metrics
	historyAppends prometheus.Counter
	historyLockWait *prometheus.HistogramVec

	// Error metrics
	errorsByKind    *prometheus.CounterVec
	errorsByFailure *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
// When metrics are disabled every record method is a no-op.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		commandsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_dispatched_total",
				Help:      "Total number of commands dispatched",
			},
			[]string{"command", "exit_code"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of command execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),

		hookFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_hook_failures_total",
				Help:      "Total number of plugin hook failures",
			},
			[]string{"plugin", "hook"},
		),

		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation", "outcome"},
		),

		historyAppends: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_appends_total",
				Help:      "Total number of history records appended",
			},
		),
		historyLockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "history_lock_wait_seconds",
				Help:      "Time spent waiting for the history file lock",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"outcome"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by error kind",
			},
			[]string{"kind"},
		),
		errorsByFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_failure_total",
				Help:      "Total number of errors by canonical failure string",
			},
			[]string{"failure"},
		),
	}

	registry.MustRegister(
		m.commandsDispatched,
		m.dispatchDuration,
		m.hookFailures,
		m.retryAttempts,
		m.historyAppends,
		m.historyLockWait,
		m.errorsByKind,
		m.errorsByFailure,
	)

	return m, nil
}

// CommandDispatched records the outcome of one command dispatch.
func (m *Metrics) CommandDispatched(command string, exitCode int, duration time.Duration) {
	if m.commandsDispatched == nil {
		return
	}
	m.commandsDispatched.WithLabelValues(command, exitCodeLabel(exitCode)).Inc()
	m.dispatchDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// HookFailed records a plugin hook failure.
func (m *Metrics) HookFailed(plugin, hook string) {
	if m.hookFailures == nil {
		return
	}
	m.hookFailures.WithLabelValues(plugin, hook).Inc()
}

// RecordRetryAttempt records one retry attempt and its outcome.
func (m *Metrics) RecordRetryAttempt(operation, outcome string) {
	if m.retryAttempts == nil {
		return
	}
	m.retryAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordHistoryAppend records a successful history append and the time
// spent acquiring the file lock.
func (m *Metrics) RecordHistoryAppend(lockWait time.Duration) {
	if m.historyAppends == nil {
		return
	}
	m.historyAppends.Inc()
	m.historyLockWait.WithLabelValues("acquired").Observe(lockWait.Seconds())
}

// RecordHistoryLockTimeout records a failed history lock acquisition.
func (m *Metrics) RecordHistoryLockTimeout(lockWait time.Duration) {
	if m.historyLockWait == nil {
		return
	}
	m.historyLockWait.WithLabelValues("timeout").Observe(lockWait.Seconds())
}

// RecordError records an error by kind and optionally by failure string.
func (m *Metrics) RecordError(kind, failure string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	if failure != "" {
		m.errorsByFailure.WithLabelValues(failure).Inc()
	}
}

// Registry exposes the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "0"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "1"
	}
}
