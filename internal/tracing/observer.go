package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/phasetime/pkg/timing"
)

// Span attribute keys
const (
	AttrPhase   = attribute.Key("phasetime.phase")
	AttrSeconds = attribute.Key("phasetime.seconds")
)

// PhaseObserver emits a span for every timed phase, using the measured
// start and end timestamps. The span is parented to the span in the
// context the phase was timed with. Samples added without timestamps are
// skipped.
type PhaseObserver struct {
	tracer trace.Tracer
}

// NewPhaseObserver creates an observer emitting spans through tracer
func NewPhaseObserver(tracer trace.Tracer) *PhaseObserver {
	return &PhaseObserver{tracer: tracer}
}

// ObservePhase implements timing.Observer
func (o *PhaseObserver) ObservePhase(ctx context.Context, s timing.Sample) {
	if !s.Timed() {
		return
	}

	_, span := o.tracer.Start(ctx, s.Phase,
		trace.WithTimestamp(s.Start),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrPhase.String(s.Phase),
			AttrSeconds.Float64(s.Seconds),
		),
	)
	if s.Err != nil {
		span.RecordError(s.Err, trace.WithTimestamp(s.End))
		span.SetStatus(codes.Error, s.Err.Error())
	}
	span.End(trace.WithTimestamp(s.End))
}
