// Package otel provides OpenTelemetry span helpers shared by the sync engine.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on sync spans.
const (
	AttrStream      = attribute.Key("oic.stream")
	AttrEntityID    = attribute.Key("oic.entity_id")
	AttrOperation   = attribute.Key("oic.operation")
	AttrOutcome     = attribute.Key("oic.outcome")
	AttrBatchID     = attribute.Key("oic.batch.id")
	AttrBatchSize   = attribute.Key("oic.batch.size")
	AttrBatchStatus = attribute.Key("oic.batch.status")
	AttrRunID       = attribute.Key("oic.run.id")
	AttrState       = attribute.Key("oic.state")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns the
// span already in ctx (a no-op span when there is none).
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on the span and marks it failed. The status
// description stays generic; the error text is only in the exception event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// AddTransition records a state machine transition as a span event
func AddTransition(span trace.Span, state string) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent("transition", trace.WithAttributes(AttrState.String(state)))
}
