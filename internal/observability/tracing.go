package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const TracerName = "claims-orchestrator"

const (
	AttrClaimID  = "claim_id"
	AttrStage    = "stage"
	AttrPriority = "priority"
	AttrOutcome  = "outcome"
)

const SpanProcessClaim = "claims.process"

// Tracer uses the global provider, so spans are no-ops until the process
// installs one.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

func (t *Tracer) StartClaimSpan(ctx context.Context, claimID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanProcessClaim,
		trace.WithAttributes(attribute.String(AttrClaimID, claimID)),
	)
}

func (t *Tracer) StartStageSpan(ctx context.Context, claimID, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("claims.stage.%s", stage),
		trace.WithAttributes(
			attribute.String(AttrClaimID, claimID),
			attribute.String(AttrStage, stage),
		),
	)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
