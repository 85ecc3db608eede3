// Package integration holds the application-facing facades of the event bus:
// the Processor used by bootstrap code to register handlers and the
// EventPublisher used by application code to emit events.
package integration

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"eventbus/internal/eventbus"
	"eventbus/internal/validator"
)

// TypeCounter is told how many distinct event types are registered.
type TypeCounter interface {
	SetRegisteredEventTypes(n int)
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithTypeCounter reports the number of registered event types to c.
func WithTypeCounter(c TypeCounter) ProcessorOption {
	return func(p *Processor) {
		p.counter = c
	}
}

// Processor keeps track of the event types handlers were registered for and
// forwards subscription requests to the bus. Registration is idempotent only
// at the bookkeeping level: subscribing the same pair twice starts two loops.
type Processor struct {
	subscriber eventbus.Subscriber
	logger     *zap.Logger
	counter    TypeCounter

	mu         sync.Mutex
	eventTypes map[string]reflect.Type
}

func NewProcessor(subscriber eventbus.Subscriber, logger *zap.Logger, opts ...ProcessorOption) (*Processor, error) {
	if err := validator.Validate("integration event processor", subscriber, logger); err != nil {
		return nil, err
	}

	p := &Processor{
		subscriber: subscriber,
		logger:     logger.Named("processor"),
		eventTypes: make(map[string]reflect.Type),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

func (p *Processor) Subscribe(ctx context.Context, b eventbus.Binding) error {
	if !b.Valid() {
		return eventbus.ErrInvalidBinding
	}

	logger := p.logger.With(
		zap.String("eventType", b.EventName()),
		zap.String("handler", b.HandlerName()),
	)

	if p.register(b) {
		logger.Info("registered integration event type")
	}

	if err := p.subscriber.Subscribe(ctx, b); err != nil {
		const errMsg = "failed to subscribe handler"
		logger.Error(errMsg, zap.Error(err))
		return fmt.Errorf(errMsg+" %s: %w", b.HandlerName(), err)
	}
	logger.Info("subscribed handler to integration event")

	return nil
}

func (p *Processor) Unsubscribe(ctx context.Context, b eventbus.Binding) error {
	logger := p.logger.With(
		zap.String("eventType", b.EventName()),
		zap.String("handler", b.HandlerName()),
	)
	logger.Info("unsubscribing handler from integration event")

	if err := p.subscriber.Unsubscribe(ctx, b); err != nil {
		const errMsg = "failed to unsubscribe handler"
		logger.Warn(errMsg, zap.Error(err))
		return fmt.Errorf(errMsg+" %s: %w", b.HandlerName(), err)
	}

	return nil
}

// EventTypes returns a copy of the registered event types by name.
func (p *Processor) EventTypes() map[string]reflect.Type {
	p.mu.Lock()
	defer p.mu.Unlock()

	return maps.Clone(p.eventTypes)
}

func (p *Processor) register(b eventbus.Binding) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.eventTypes[b.EventName()]; ok {
		return false
	}
	p.eventTypes[b.EventName()] = b.EventType()
	if p.counter != nil {
		p.counter.SetRegisteredEventTypes(len(p.eventTypes))
	}

	return true
}

// Subscribe registers handler type H for events of type E.
func Subscribe[E eventbus.Event, H eventbus.Handler[E]](ctx context.Context, p *Processor) error {
	return p.Subscribe(ctx, eventbus.Bind[E, H]())
}

// Unsubscribe stops handler type H from consuming events of type E.
func Unsubscribe[E eventbus.Event, H eventbus.Handler[E]](ctx context.Context, p *Processor) error {
	return p.Unsubscribe(ctx, eventbus.Bind[E, H]())
}

var _ eventbus.Subscriber = (*Processor)(nil)
