package loader

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func startReadSpan(ctx context.Context, meta Metadata, mode string, values int) (context.Context, trace.Span) {
	tracer := otel.Tracer("relq/loader")
	ctx, span := tracer.Start(ctx, "relationloader.read")
	span.SetAttributes(
		attribute.String("relq.entity", meta.Entity),
		attribute.String("relq.relation", meta.Relation.Name),
		attribute.String("relq.relation.kind", meta.Relation.Kind.String()),
		attribute.String("relq.read.mode", mode),
		attribute.Int("relq.read.values", values),
	)
	return ctx, span
}

func finishReadSpan(span trace.Span, rows int, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err != nil {
		span.SetAttributes(attribute.String("relq.read.outcome", "error"))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("relq.read.outcome", "success"),
		attribute.Int("relq.read.rows", rows),
	)
}
