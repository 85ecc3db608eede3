package subscription

import (
	"context"
	"time"

	"eventbus/internal/eventbus"
	"eventbus/internal/eventbus/deadletter"
	"eventbus/internal/eventbus/tracing"
)

// Config controls redelivery of failed messages.
type Config struct {
	// MaxDeliveries is the number of failed deliveries after which a message
	// is parked in the dead-letter store and committed. Zero redelivers forever.
	MaxDeliveries             int           `env:"SUBSCRIPTION_MAX_DELIVERIES" envDefault:"0"`
	RedeliveryInitialInterval time.Duration `env:"SUBSCRIPTION_REDELIVERY_INITIAL_INTERVAL" envDefault:"100ms"`
	RedeliveryMaxInterval     time.Duration `env:"SUBSCRIPTION_REDELIVERY_MAX_INTERVAL" envDefault:"30s"`
	CommitTimeout             time.Duration `env:"SUBSCRIPTION_COMMIT_TIMEOUT" envDefault:"10s"`
}

// DeadLetters parks messages that exhausted their deliveries.
type DeadLetters interface {
	Put(ctx context.Context, l deadletter.Letter) error
}

// Recorder receives loop and delivery measurements.
type Recorder interface {
	RecordDelivery(topic, group string, outcome eventbus.Outcome, duration time.Duration)
	RecordFetchError(topic, group string)
	LoopStarted(topic, handler string)
	LoopStopped(topic, handler string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDelivery(string, string, eventbus.Outcome, time.Duration) {}
func (nopRecorder) RecordFetchError(string, string)                                {}
func (nopRecorder) LoopStarted(string, string)                                     {}
func (nopRecorder) LoopStopped(string, string)                                     {}

// Option customizes a Manager.
type Option func(*Manager)

// WithDeadLetters enables parking of messages after Config.MaxDeliveries.
func WithDeadLetters(d DeadLetters) Option {
	return func(m *Manager) {
		m.deadLetters = d
	}
}

// WithRecorder reports loop activity to r, typically a *metrics.Registry.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithTracer sets the tracer used for delivery spans.
func WithTracer(t *tracing.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}
