// Package telemetry provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, and the buffered event emitter flushed at the end
// of every dispatch.
package telemetry

import (
	"fmt"
	"time"
)

// Config is the telemetry configuration for one CLI invocation.
type Config struct {
	// ServiceName identifies the CLI in exported telemetry.
	ServiceName string

	// ServiceVersion is the CLI version string.
	ServiceVersion string

	// Logging configures structured logging.
	Logging LoggingConfig

	// Tracing configures span export.
	Tracing TracingConfig

	// Metrics configures Prometheus collection.
	Metrics MetricsConfig

	// Events configures the buffered event emitter.
	Events EventsConfig
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr, or a file path.
	Output string
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	Enabled bool

	// Exporter is otlp, stdout, or none.
	Exporter string

	// Endpoint is the OTLP collector endpoint.
	Endpoint string

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// ExportTimeout bounds a single export.
	ExportTimeout time.Duration

	// Headers are additional OTLP headers.
	Headers map[string]string

	// Insecure disables TLS for the exporter connection.
	Insecure bool
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool

	// Namespace prefixes every metric name.
	Namespace string
}

// EventsConfig configures the event emitter.
type EventsConfig struct {
	// Enabled controls whether events are buffered.
	Enabled bool

	// BufferSize caps the number of unflushed events.
	BufferSize int
}

// DefaultConfig returns a configuration suitable for an interactive CLI:
// console logs, no exported traces, metrics collected in-process only.
func DefaultConfig(serviceName, serviceVersion string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "bijux",
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 256,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be within [0, 1], got %f", c.Tracing.SamplingRate)
	}
	return nil
}
