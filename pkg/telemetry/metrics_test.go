package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricsDisabledIsNoOp verifies a disabled collector records nothing
// and never panics.
func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	if m.Registry() != nil {
		t.Error("expected a nil registry when disabled")
	}

	m.CommandDispatched("version", 0, time.Millisecond)
	m.HookFailed("p", "h")
	m.RecordRetryAttempt("op", "attempt")
	m.RecordHistoryAppend(time.Millisecond)
	m.RecordHistoryLockTimeout(time.Second)
	m.RecordError("usage", "invalid_format")
}

// TestCommandDispatchedCounts verifies dispatch outcomes increment the
// counter with the exit-code label.
func TestCommandDispatchedCounts(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "bijux"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.CommandDispatched("version", 0, time.Millisecond)
	m.CommandDispatched("version", 0, time.Millisecond)
	m.CommandDispatched("broken", 2, time.Millisecond)

	if got := testutil.ToFloat64(m.commandsDispatched.WithLabelValues("version", "0")); got != 2 {
		t.Errorf("expected 2 successful dispatches, got %v", got)
	}
	if got := testutil.ToFloat64(m.commandsDispatched.WithLabelValues("broken", "2")); got != 1 {
		t.Errorf("expected 1 usage failure, got %v", got)
	}
}

// TestExitCodeLabel verifies non-reserved codes collapse into the internal
// label.
func TestExitCodeLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "0"}, {1, "1"}, {2, "2"}, {3, "3"}, {42, "1"}, {-1, "1"},
	}
	for _, tt := range tests {
		if got := exitCodeLabel(tt.code); got != tt.want {
			t.Errorf("exitCodeLabel(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

// TestHookAndRetryCounters verifies the remaining counters record with their
// labels.
func TestHookAndRetryCounters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "bijux"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.HookFailed("greeter", "pre")
	m.RecordRetryAttempt("sleep", "exhausted")
	m.RecordError("usage", "invalid_format")
	m.RecordHistoryAppend(2 * time.Millisecond)

	if got := testutil.ToFloat64(m.hookFailures.WithLabelValues("greeter", "pre")); got != 1 {
		t.Errorf("expected 1 hook failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.retryAttempts.WithLabelValues("sleep", "exhausted")); got != 1 {
		t.Errorf("expected 1 retry attempt, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByFailure.WithLabelValues("invalid_format")); got != 1 {
		t.Errorf("expected 1 failure record, got %v", got)
	}
	if got := testutil.ToFloat64(m.historyAppends); got != 1 {
		t.Errorf("expected 1 history append, got %v", got)
	}
}

// TestConfigValidate verifies the telemetry configuration checks.
func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig("bijux", "1.0.0")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected the default config to validate, got %v", err)
	}

	bad := cfg
	bad.ServiceName = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected a missing service name to fail")
	}

	bad = cfg
	bad.Tracing.Enabled = true
	bad.Tracing.Exporter = "otlp"
	bad.Tracing.Endpoint = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected an endpointless otlp exporter to fail")
	}

	bad = cfg
	bad.Tracing.SamplingRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected an out-of-range sampling rate to fail")
	}
}
