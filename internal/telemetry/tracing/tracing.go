// Package tracing wraps an OpenTelemetry tracer with adaptive sampling and
// exposes trace/span id extraction so logs and events can be correlated to
// the span that produced them.
package tracing

import (
	"context"
	"fmt"
	"math/rand"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer starts spans, optionally sampling down to a configured percentage
// of traces that don't already have a parent.
type Tracer struct {
	tracer   oteltrace.Tracer
	sampleFn func() float64 // nil means always sample
}

// New creates a tracer registered under serviceName with the given
// deployment environment label, backed by an in-process TracerProvider
// (no exporter wired; callers needing export configure one on the
// returned provider before the first span starts).
func New(serviceName, environment string) (*Tracer, *sdktrace.TracerProvider) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(environment),
		)),
	)
	otel.SetTracerProvider(tp)
	return &Tracer{tracer: otel.Tracer(serviceName)}, tp
}

// WithAdaptiveSampling returns a copy of t that samples new root spans at
// the percentage sampleFn reports (0-100), re-evaluated per span start.
// Spans with an existing parent in ctx are always recorded.
func (t *Tracer) WithAdaptiveSampling(sampleFn func() float64) *Tracer {
	return &Tracer{tracer: t.tracer, sampleFn: sampleFn}
}

// StartSpan starts a span named name, applying adaptive sampling to new
// root traces only.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, oteltrace.Span) {
	if t.sampleFn != nil && !oteltrace.SpanContextFromContext(ctx).IsValid() {
		pct := t.sampleFn()
		if pct <= 0 || rand.Float64()*100 > pct {
			return ctx, oteltrace.SpanFromContext(ctx)
		}
	}
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, toString(v)))
	}
	return t.tracer.Start(ctx, name, oteltrace.WithAttributes(kv...))
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ExtractIDs returns the active trace/span ids from ctx, empty if none.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
