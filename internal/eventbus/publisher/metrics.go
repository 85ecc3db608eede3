package publisher

import (
	"context"
	"time"

	"eventbus/internal/eventbus"
	"eventbus/internal/eventbus/metrics"
)

// MetricsPublisher wraps an eventbus.Publisher with metrics collection
type MetricsPublisher struct {
	publisher eventbus.Publisher
	registry  *metrics.Registry
}

// NewMetricsPublisher creates a new instrumented publisher
func NewMetricsPublisher(publisher eventbus.Publisher, registry *metrics.Registry) eventbus.Publisher {
	return &MetricsPublisher{
		publisher: publisher,
		registry:  registry,
	}
}

// Publish implements eventbus.Publisher with metrics collection
func (p *MetricsPublisher) Publish(ctx context.Context, event eventbus.Event) error {
	if eventbus.IsNil(event) {
		return p.publisher.Publish(ctx, event)
	}

	start := time.Now()
	err := p.publisher.Publish(ctx, event)
	p.registry.RecordPublish(eventbus.TypeNameOf(event), time.Since(start), err)

	return err
}
