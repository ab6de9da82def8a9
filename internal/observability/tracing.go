package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	// Enabled turns tracing on. When false, Setup installs a no-op provider.
	Enabled bool

	// Endpoint is the OTLP gRPC collector endpoint, e.g. "localhost:4317".
	Endpoint string

	// ServiceName identifies this process in traces.
	ServiceName string

	// SampleRatio in [0,1] controls head sampling; 0 means sample everything.
	SampleRatio float64
}

// Tracer wraps an otel tracer together with its provider for shutdown.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// SetupTracing installs a global tracer provider exporting over OTLP gRPC.
// The returned Tracer must be shut down before process exit to flush spans.
func SetupTracing(ctx context.Context, config TracingConfig) (*Tracer, error) {
	if config.ServiceName == "" {
		config.ServiceName = "assistantd"
	}
	if !config.Enabled {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(config.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if config.SampleRatio > 0 && config.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(config.SampleRatio)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Tracer{
		tracer:   provider.Tracer(config.ServiceName),
		provider: provider,
	}, nil
}

// StartRunSpan opens a span for processing one run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, threadID, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "run.process", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("thread.id", threadID),
		attribute.String("run.model", model),
	))
}

// StartToolSpan opens a span for one tool execution.
func (t *Tracer) StartToolSpan(ctx context.Context, kind, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.kind", kind),
		attribute.String("tool.name", name),
	))
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.provider.Shutdown(ctx)
}
