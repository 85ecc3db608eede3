package integration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"eventbus/internal/eventbus"
	"eventbus/internal/validator"
)

// EventPublisher is the entry point application code publishes through. It
// logs every event and delegates to the underlying publisher.
type EventPublisher struct {
	publisher eventbus.Publisher
	logger    *zap.Logger
}

func NewEventPublisher(publisher eventbus.Publisher, logger *zap.Logger) (*EventPublisher, error) {
	if err := validator.Validate("event publisher", publisher, logger); err != nil {
		return nil, err
	}

	return &EventPublisher{
		publisher: publisher,
		logger:    logger.Named("event_publisher"),
	}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, event eventbus.Event) error {
	if eventbus.IsNil(event) {
		return eventbus.ErrNilEvent
	}

	logger := p.logger.With(
		zap.String("eventType", eventbus.TypeNameOf(event)),
		zap.Stringer("eventId", event.EventID()),
	)
	logger.Info("publishing integration event", zap.Any("event", event))

	if err := p.publisher.Publish(ctx, event); err != nil {
		const errMsg = "failed to publish integration event"
		logger.Error(errMsg, zap.Error(err))
		return fmt.Errorf(errMsg+" %s: %w", event.EventID(), err)
	}

	return nil
}

var _ eventbus.Publisher = (*EventPublisher)(nil)
