package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eventbus/internal/eventbus"
	"eventbus/internal/eventbus/tracing"
	"eventbus/internal/validator"
)

// Publisher serializes events and sends them through the shared producer.
type Publisher struct {
	producer eventbus.Producer
	logger   *zap.Logger
}

func NewPublisher(producer eventbus.Producer, logger *zap.Logger) (*Publisher, error) {
	p := Publisher{
		producer: producer,
		logger:   logger,
	}

	if err := validator.Validate("publisher", p.producer, p.logger); err != nil {
		return nil, fmt.Errorf("failed to validate publisher deps: %w", err)
	}
	p.logger = p.logger.Named("publisher")

	return &p, nil
}

// Publish sends event to the topic named after its concrete type, keyed by
// the event ID. It returns once the broker has durably accepted the message.
func (p *Publisher) Publish(ctx context.Context, event eventbus.Event) error {
	if eventbus.IsNil(event) {
		return eventbus.ErrNilEvent
	}

	topic := eventbus.TypeNameOf(event)
	logger := p.logger.With(
		zap.String("eventType", topic),
		zap.Stringer("eventId", event.EventID()),
	)

	msg, err := Encode(event)
	if err != nil {
		const errMsg = "failed to serialize event"
		logger.Error(errMsg, zap.Error(err))
		return fmt.Errorf(errMsg+" %s: %w", event.EventID(), err)
	}
	tracing.Inject(ctx, &msg)

	if err := p.producer.Send(ctx, msg); err != nil {
		const errMsg = "failed to publish event"
		logger.Error(errMsg, zap.Error(err))
		return fmt.Errorf(errMsg+" %s to %s: %w", event.EventID(), topic, err)
	}

	logger.Info("event published", zap.String("status", "persisted"))

	return nil
}

// Encode builds the wire message for event: JSON value, ID as key, topic
// named after the event type.
func Encode(event eventbus.Event) (eventbus.Message, error) {
	if eventbus.IsNil(event) {
		return eventbus.Message{}, eventbus.ErrNilEvent
	}

	value, err := json.Marshal(event)
	if err != nil {
		return eventbus.Message{}, err
	}

	return eventbus.Message{
		Topic: eventbus.TypeNameOf(event),
		Key:   []byte(event.EventID().String()),
		Value: value,
		Time:  time.Now().UTC(),
	}, nil
}

var _ eventbus.Publisher = (*Publisher)(nil)
