package otel

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceFields returns trace_id and span_id log fields for the span in ctx,
// or nil when ctx carries no sampled span.
func TraceFields(ctx context.Context) logrus.Fields {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return logrus.Fields{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}
}

// AnnotateOperation tags the current span with the operation it touched
func AnnotateOperation(ctx context.Context, id, status string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("operation.id", id),
		attribute.String("operation.status", status),
	)
}
