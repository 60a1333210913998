// Package tracing wraps OpenTelemetry span creation around the HTTP layer's
// generate and generate_stream calls. A single-slot gateway with one
// downstream (the worker subprocess) needs no pluggable exporters or deep
// attribute vocabulary, so this package keeps only an OTLP-gRPC exporter,
// a ratio sampler, and the Start/Shutdown/error-recording surface the rest
// of the repo actually calls.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Config contains configuration for New.
type Config struct {
	Enabled     bool
	Endpoint    string
	SampleRatio float64
	ServiceName string
}

// Tracer wraps an OpenTelemetry tracer, falling back to a noop
// implementation when tracing is disabled so every call site can call
// Start unconditionally.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// New initializes the OpenTelemetry SDK with an OTLP/gRPC exporter, or
// returns a noop Tracer if cfg.Enabled is false.
func New(cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer("llamagate")}, nil
	}

	if cfg.Endpoint == "" {
		return nil, errors.New("tracing: endpoint is required when tracing is enabled")
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()),
	)
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("tracing: creating OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: building resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return &Tracer{
		tracer:   provider.Tracer("llamagate"),
		provider: provider,
		enabled:  true,
	}, nil
}

// Start opens a span named name, descending from any span already in ctx.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes pending spans and releases the exporter connection.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Enabled reports whether this Tracer exports real spans.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// SetError records err on span and marks the span attributes accordingly.
// A nil span or nil err is a no-op.
func SetError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.SetAttributes(attribute.Bool("error", true), attribute.String("error.message", err.Error()))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace id attached to ctx's span, or "" if none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
