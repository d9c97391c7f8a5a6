package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bijux/bijux-cli/pkg/core"
)

// TestEffectiveLevel verifies the execution context can lower the configured
// threshold but never raise it.
func TestEffectiveLevel(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		ectx       core.ExecutionContext
		want       zerolog.Level
	}{
		{"configured level applies", "warn", core.ExecutionContext{}, zerolog.WarnLevel},
		{"debug lowers to debug", "warn", core.ExecutionContext{Debug: true}, zerolog.DebugLevel},
		{"verbose lowers to info", "error", core.ExecutionContext{Verbose: true}, zerolog.InfoLevel},
		{"debug never raises trace", "trace", core.ExecutionContext{Debug: true}, zerolog.TraceLevel},
		{"verbose never raises debug", "debug", core.ExecutionContext{Verbose: true}, zerolog.DebugLevel},
		{"unknown level defaults to info", "loud", core.ExecutionContext{}, zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := effectiveLevel(tt.configured, tt.ectx); got != tt.want {
				t.Errorf("effectiveLevel(%q, %+v) = %s, want %s", tt.configured, tt.ectx, got, tt.want)
			}
		})
	}
}

// TestNewLoggerQuietDiscards verifies quiet mode produces no diagnostic
// output while the logger remains usable.
func TestNewLoggerQuietDiscards(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json"}, core.ExecutionContext{Quiet: true})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	// Must not panic or write anywhere observable.
	logger.Error().Msg("suppressed")
}

// TestNewLoggerRejectsUnwritableFile verifies a bad output path surfaces as
// an error instead of a silent fallback.
func TestNewLoggerRejectsUnwritableFile(t *testing.T) {
	_, err := NewLogger(LoggingConfig{Level: "info", Output: t.TempDir()}, core.ExecutionContext{})
	if err == nil {
		t.Fatal("expected error for directory output path")
	}
}

// TestLoggerContextRoundTrip verifies context storage and the no-op
// fallback for a bare context.
func TestLoggerContextRoundTrip(t *testing.T) {
	base := zerolog.New(nil).With().Str("component", "test").Logger()
	ctx := WithContext(context.Background(), base)

	got := FromContext(ctx)
	if got.GetLevel() != base.GetLevel() {
		t.Errorf("stored logger not returned from context")
	}

	fallback := FromContext(context.Background())
	if fallback.GetLevel() != zerolog.Disabled {
		t.Errorf("expected disabled no-op logger for bare context, got level %s", fallback.GetLevel())
	}
}
