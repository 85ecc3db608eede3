// Package deadletter parks messages that exhausted their deliveries.
package deadletter

import (
	"fmt"
	"time"

	"eventbus/internal/eventbus"
)

// Letter is a parked message together with the reason it was given up on.
type Letter struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Group      string    `json:"group"`
	Handler    string    `json:"handler"`
	Partition  int       `json:"partition"`
	Offset     int64     `json:"offset"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason"`
	Deliveries int       `json:"deliveries"`
	ParkedAt   time.Time `json:"parkedAt"`
}

// NewLetter builds the letter for msg as consumed by binding b.
func NewLetter(b eventbus.Binding, msg eventbus.Message, outcome eventbus.Outcome, cause error, deliveries int) Letter {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	return Letter{
		ID:         Key(b.Topic(), b.Group(), msg.Partition, msg.Offset),
		Topic:      b.Topic(),
		Group:      b.Group(),
		Handler:    b.HandlerName(),
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		Key:        string(msg.Key),
		Value:      string(msg.Value),
		Outcome:    outcome.String(),
		Reason:     reason,
		Deliveries: deliveries,
		ParkedAt:   time.Now().UTC(),
	}
}

// Key identifies a parked message. A message is parked at most once per group.
func Key(topic, group string, partition int, offset int64) string {
	return fmt.Sprintf("deadletter::%s::%s::%d::%d", topic, group, partition, offset)
}
