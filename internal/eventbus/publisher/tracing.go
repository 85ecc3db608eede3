package publisher

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"eventbus/internal/eventbus"
	"eventbus/internal/eventbus/tracing"
)

// TracedPublisher wraps an eventbus.Publisher with distributed tracing
// Layer order: TracedPublisher -> MetricsPublisher -> Publisher (real thing)
type TracedPublisher struct {
	publisher eventbus.Publisher
	tracer    *tracing.Tracer
}

// NewTracedPublisher creates a new traced publisher
func NewTracedPublisher(publisher eventbus.Publisher, tracer *tracing.Tracer) eventbus.Publisher {
	return &TracedPublisher{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish implements eventbus.Publisher with a producer span. The span
// context travels to consumers in the message headers.
func (p *TracedPublisher) Publish(ctx context.Context, event eventbus.Event) error {
	if eventbus.IsNil(event) {
		return p.publisher.Publish(ctx, event)
	}

	ctx, span := p.tracer.StartSpan(ctx, "publisher.publish", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(p.tracer.PublishAttributes(eventbus.TypeNameOf(event), event.EventID().String())...)

	err := p.publisher.Publish(ctx, event)
	p.tracer.End(ctx, span, err)

	return err
}
