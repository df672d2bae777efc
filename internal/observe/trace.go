package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every Shabda span.
const tracerName = "github.com/MrWong99/shabda"

// CorrelationHeader is the response header carrying the request's trace ID.
const CorrelationHeader = "X-Correlation-ID"

// Span attributes set by the correction pipeline.
const (
	CorrectionIDKey = attribute.Key("correction.id")
	TokensKey       = attribute.Key("correction.tokens")
	SessionIDKey    = attribute.Key("session.id")
	SessionChunkKey = attribute.Key("session.chunk")
)

// StartSpan starts a span from the globally registered tracer provider. The
// caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// Fail records err on span and marks the span as failed. A nil err is a no-op.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. Clients see it in the [CorrelationHeader] and it is logged as
// correlation_id, so a failed correction can be found in the logs.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger with correlation_id and span_id taken
// from the span in ctx. Without a span it is the default logger unchanged.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("correlation_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
