// Package telemetry wraps event dispatch in OpenTelemetry spans.
// It uses the global tracer provider; without one configured spans are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yidafu/AquaRush-sub000/internal/event"
)

const instrumentation = "aquarush/outbox"

var tracer = otel.Tracer(instrumentation)

// StartDispatchSpan starts a span for one handler invocation of rec.
func StartDispatchSpan(ctx context.Context, rec *event.Record, path string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "outbox.dispatch "+string(rec.Type),
		trace.WithAttributes(
			attribute.Int64("event.id", rec.ID),
			attribute.String("event.type", string(rec.Type)),
			attribute.Int("event.retry_count", rec.RetryCount),
			attribute.String("outbox.path", path),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

// StartSweepSpan starts a span for one retention sweep.
func StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "outbox.sweep", trace.WithSpanKind(trace.SpanKindInternal))
}

// AddOutcome records the final state of the record on the current span.
func AddOutcome(ctx context.Context, outcome string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.String("outbox.outcome", outcome))
}

// EndSpan completes span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
