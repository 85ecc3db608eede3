package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// Binding pairs an event type with the handler type that consumes it. It is
// created with Bind and carries everything a consumer loop needs to decode a
// message and dispatch it to a resolved handler.
type Binding struct {
	eventType   reflect.Type
	handlerType reflect.Type
	topic       string

	decode func(data []byte) (Event, error)
	invoke func(ctx context.Context, handler any, event Event) error
}

// Bind returns the binding of event type E to handler type H.
func Bind[E Event, H Handler[E]]() Binding {
	handlerType := reflect.TypeFor[H]()

	return Binding{
		eventType:   reflect.TypeFor[E](),
		handlerType: handlerType,
		topic:       TopicName[E](),
		decode: func(data []byte) (Event, error) {
			return Decode[E](data)
		},
		invoke: func(ctx context.Context, handler any, event Event) error {
			h, ok := handler.(H)
			if !ok {
				return fmt.Errorf("%w: got %T, want %s", ErrHandlerMismatch, handler, handlerType)
			}
			e, ok := event.(E)
			if !ok {
				return fmt.Errorf("unexpected event type %T for handler %s", event, handlerType)
			}

			return h.Handle(ctx, e)
		},
	}
}

// EventType is the concrete event type of the binding.
func (b Binding) EventType() reflect.Type {
	return b.eventType
}

// HandlerType is the handler type resolved for every message.
func (b Binding) HandlerType() reflect.Type {
	return b.handlerType
}

// EventName is the logical event type name.
func (b Binding) EventName() string {
	return b.topic
}

// HandlerName is the simple name of the handler type.
func (b Binding) HandlerName() string {
	return typeName(b.handlerType)
}

// Topic is the broker topic consumed by the binding.
func (b Binding) Topic() string {
	return b.topic
}

// Group is the consumer group joined by the binding.
func (b Binding) Group() string {
	return GroupName(b.topic)
}

// Key identifies the (event type, handler type) pair.
func (b Binding) Key() string {
	return b.topic + "/" + fmt.Sprint(b.handlerType)
}

// Valid reports whether b was created with Bind.
func (b Binding) Valid() bool {
	return b.decode != nil && b.invoke != nil
}

// Decode deserializes a message payload into the bound event type.
func (b Binding) Decode(data []byte) (Event, error) {
	return b.decode(data)
}

// Invoke calls Handle on handler, which must be of the bound handler type.
func (b Binding) Invoke(ctx context.Context, handler any, event Event) error {
	return b.invoke(ctx, handler, event)
}

// Decode deserializes a JSON payload into a new E. Pointer event types are
// allocated before decoding.
func Decode[E Event](data []byte) (E, error) {
	var e E

	t := reflect.TypeFor[E]()
	if t.Kind() == reflect.Pointer {
		v, ok := reflect.New(t.Elem()).Interface().(E)
		if !ok {
			return e, fmt.Errorf("cannot allocate event of type %s", t)
		}
		if err := json.Unmarshal(data, v); err != nil {
			return e, fmt.Errorf("failed to decode %s: %w", typeName(t), err)
		}

		return v, nil
	}

	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to decode %s: %w", typeName(t), err)
	}

	return e, nil
}
