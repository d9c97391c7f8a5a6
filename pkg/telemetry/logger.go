package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/bijux/bijux-cli/pkg/core"
)

// loggerContextKey is the context key for logger instances.
type loggerContextKey struct{}

// NewLogger builds the root zerolog logger for one CLI invocation.
//
// The execution context drives the effective level: quiet discards all
// diagnostic output, debug lowers the threshold to debug, and verbose to
// info. Otherwise the configured level applies.
func NewLogger(cfg LoggingConfig, ectx core.ExecutionContext) (zerolog.Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "stderr", "":
		writer = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), err
		}
		writer = file
	}

	if ectx.Quiet {
		// Quiet suppresses diagnostics entirely; exit codes still carry
		// the outcome.
		writer = io.Discard
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(writer).With().Timestamp().Logger()
	logger = logger.Level(effectiveLevel(cfg.Level, ectx))
	if ectx.Debug {
		logger = logger.With().Caller().Logger()
	}
	return logger, nil
}

// ComponentLogger returns a child logger tagged with a component name.
func ComponentLogger(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithContext stores the logger in the context.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// FromContext retrieves the logger from the context, or a no-op logger if
// none was stored.
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// effectiveLevel reconciles the configured level with the execution
// context flags. Debug and verbose can only lower the threshold, never
// raise it.
func effectiveLevel(configured string, ectx core.ExecutionContext) zerolog.Level {
	level := parseLogLevel(configured)
	if ectx.Debug && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	} else if ectx.Verbose && level > zerolog.InfoLevel {
		level = zerolog.InfoLevel
	}
	return level
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
