package telemetry

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	attrCommand   = attribute.Key("command.path")
	attrExitCode  = attribute.Key("command.exit_code")
	attrPlugin    = attribute.Key("plugin.name")
	attrHookName  = attribute.Key("hook.name")
	attrHookStage = attribute.Key("hook.stage")
)

// Tracer produces one span per command dispatch, with child spans for plugin
// hooks. A disabled tracer hands out no-op spans; callers never branch.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	// propagator serializes trace context into hook event frames so a guest
	// can correlate its own telemetry with the dispatch.
	propagator propagation.TextMapPropagator
}

// NewTracer builds a tracer for one CLI invocation. The process is short
// lived, so the stdout exporter runs synchronously and Close force-flushes
// whatever the otlp batcher still holds.
func NewTracer(cfg TracingConfig, service, version string) (*Tracer, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return &Tracer{
			provider:   provider,
			tracer:     provider.Tracer(service),
			propagator: propagation.TraceContext{},
		}, nil
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to describe trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	switch cfg.Exporter {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to build stdout trace exporter: %w", err)
		}
		// A CLI exits before a batcher's first tick; export inline instead.
		opts = append(opts, sdktrace.WithSyncer(exporter))
	case "otlp":
		exporter, err := newOTLPExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithExportTimeout(cfg.ExportTimeout)))
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}

	provider := sdktrace.NewTracerProvider(opts...)
	return &Tracer{
		provider:   provider,
		tracer:     provider.Tracer(service),
		propagator: propagation.TraceContext{},
	}, nil
}

func newOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithBlock()))
	return otlptracegrpc.New(context.Background(), opts...)
}

// Dispatch opens the root span for one command. The returned end function
// records the exit code and error outcome and must run on every path.
func (t *Tracer) Dispatch(ctx context.Context, command string) (context.Context, func(code int, err error)) {
	ctx, span := t.tracer.Start(ctx, "command.dispatch",
		trace.WithAttributes(attrCommand.String(command)))
	return ctx, func(code int, err error) {
		span.SetAttributes(attrExitCode.Int(code))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if code != 0 {
			span.SetStatus(codes.Error, "exit "+strconv.Itoa(code))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// Hook opens a child span covering one plugin hook invocation.
func (t *Tracer) Hook(ctx context.Context, plugin, hook, stage string) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, "plugin.hook",
		trace.WithAttributes(
			attrPlugin.String(plugin),
			attrHookName.String(hook),
			attrHookStage.String(stage),
		))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Inject writes the current trace context into carrier, typically the header
// map of a hook event frame.
func (t *Tracer) Inject(ctx context.Context, carrier map[string]string) {
	t.propagator.Inject(ctx, propagation.MapCarrier(carrier))
}

// TraceID returns the active trace ID, or "" when no span is recording.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Close flushes every pending span and shuts the provider down.
func (t *Tracer) Close(ctx context.Context) error {
	if err := t.provider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush spans: %w", err)
	}
	return t.provider.Shutdown(ctx)
}
