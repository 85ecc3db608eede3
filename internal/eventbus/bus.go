package eventbus

import "context"

// Publisher publishes events to the topic named after their concrete type.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber manages consumer loops for bindings.
type Subscriber interface {
	Subscribe(ctx context.Context, b Binding) error
	Unsubscribe(ctx context.Context, b Binding) error
}

// EventBus is the full bus surface used by the application facades.
type EventBus interface {
	Publisher
	Subscriber
}

type bus struct {
	Publisher
	Subscriber
}

// NewEventBus combines a publisher and a subscriber into an EventBus.
func NewEventBus(p Publisher, s Subscriber) EventBus {
	return &bus{Publisher: p, Subscriber: s}
}
