package tracing

import (
    "context"
    "sync/atomic"

    "go.opentelemetry.io/otel"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
    sdktrace "go.opentelemetry.io/otel/sdk/trace"
    "go.opentelemetry.io/otel/trace"
)

var enabled atomic.Bool

// Setup installs a global tracer provider exporting to stdout when enable is
// true. The returned shutdown func flushes pending spans.
func Setup(enable bool) (func(context.Context) error, error) {
    enabled.Store(enable)
    if !enable {
        return func(context.Context) error { return nil }, nil
    }
    exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
    if err != nil {
        return nil, err
    }
    tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
    otel.SetTracerProvider(tp)
    return tp.Shutdown, nil
}

// Span wraps an otel span so callers can annotate it without importing otel.
type Span struct{ s trace.Span }

func (s Span) SetInt(key string, v int) {
    if s.s != nil { s.s.SetAttributes(attribute.Int(key, v)) }
}

func (s Span) SetString(key, v string) {
    if s.s != nil { s.s.SetAttributes(attribute.String(key, v)) }
}

func (s Span) RecordError(err error) {
    if s.s != nil && err != nil { s.s.RecordError(err) }
}

func (s Span) End() {
    if s.s != nil { s.s.End() }
}

// StartSpan starts a span named name when tracing is enabled; otherwise the
// returned Span is a no-op.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
    if !enabled.Load() {
        return ctx, Span{}
    }
    ctx, span := otel.Tracer("go-clustermon").Start(ctx, name)
    return ctx, Span{s: span}
}
