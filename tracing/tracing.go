// Package tracing provides OpenTelemetry spans for cache operations. It is
// entirely optional: tracing is only active when a [Config] is wired in via
// the coordinator's WithTracing option.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the OpenTelemetry configuration used for cache spans.
type Config struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider
}

// tracer returns a configured [trace.Tracer].
func (c *Config) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer("github.com/mossline/querycache/tracing")
}

// noopSpan is handed out when tracing is not configured. Ending it is safe
// and does not touch any span already present in the context.
var noopSpan = trace.SpanFromContext(context.Background())

// StartOp starts a span named "cache.<op>" carrying the cache key. If cfg
// is nil it returns ctx unchanged and a span that records nothing.
func StartOp(ctx context.Context, cfg *Config, op, key string) (context.Context, trace.Span) {
	if cfg == nil {
		return ctx, noopSpan
	}
	ctx, span := cfg.tracer().Start(ctx, "cache."+op, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("cache.operation", op),
		attribute.String("cache.key", key),
	)
	return ctx, span
}

// RecordLookup annotates a span with the outcome of a cache lookup. The
// tier attribute names the tier that answered and is only set on a hit.
func RecordLookup(span trace.Span, tier string, hit bool) {
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	if hit {
		span.SetAttributes(attribute.String("cache.tier", tier))
	}
}

// RecordError marks the span as failed. A nil error sets codes.Ok.
func RecordError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
