package eventbus

import "context"

// Producer sends messages to the broker. Implementations must be safe for
// concurrent use; a single Producer is shared by every publisher.
type Producer interface {
	// Send blocks until the broker has durably accepted every message.
	Send(ctx context.Context, msgs ...Message) error

	Close() error
}

// Consumer is an exclusive handle on a topic for one consumer group.
// It is used by a single goroutine.
type Consumer interface {
	// Fetch blocks until the next message is available or ctx is done.
	Fetch(ctx context.Context) (Message, error)

	// Commit records msg as processed for the group.
	Commit(ctx context.Context, msg Message) error

	// Rewind moves the read position back to the group's last committed offset,
	// so that uncommitted messages are fetched again.
	Rewind(ctx context.Context) error

	Close() error
}

// ConsumerFactory opens consumer handles.
type ConsumerFactory interface {
	// Open returns a consumer for topic in group. When the group has no
	// committed offset the consumer starts at the earliest retained message.
	Open(ctx context.Context, topic, group string) (Consumer, error)
}
