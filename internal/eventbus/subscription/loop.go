package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"eventbus/internal/eventbus"
	"eventbus/internal/eventbus/deadletter"
	"eventbus/internal/eventbus/tracing"
)

type position struct {
	partition int
	offset    int64
}

// loop drives one consumer for one binding. Only the loop goroutine touches
// backoff and attempts.
type loop struct {
	m *Manager

	id       uint64
	binding  eventbus.Binding
	consumer eventbus.Consumer
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	backoff  *backoff.ExponentialBackOff
	attempts map[position]int
}

func newLoop(m *Manager, id uint64, b eventbus.Binding, consumer eventbus.Consumer, cancel context.CancelFunc) *loop {
	bo := backoff.NewExponentialBackOff()
	if m.config.RedeliveryInitialInterval > 0 {
		bo.InitialInterval = m.config.RedeliveryInitialInterval
	}
	if m.config.RedeliveryMaxInterval > 0 {
		bo.MaxInterval = m.config.RedeliveryMaxInterval
	}
	bo.Reset()

	return &loop{
		m:        m,
		id:       id,
		binding:  b,
		consumer: consumer,
		logger: m.logger.With(
			zap.String("topic", b.Topic()),
			zap.String("group", b.Group()),
			zap.String("handler", b.HandlerName()),
			zap.Uint64("loop", id),
		),
		cancel:   cancel,
		done:     make(chan struct{}),
		backoff:  bo,
		attempts: make(map[position]int),
	}
}

func (l *loop) run(ctx context.Context) {
	defer close(l.done)

	topic, group, handler := l.binding.Topic(), l.binding.Group(), l.binding.HandlerName()
	l.m.recorder.LoopStarted(topic, handler)
	defer l.m.recorder.LoopStopped(topic, handler)
	defer l.release()

	for {
		msg, err := l.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.m.recorder.RecordFetchError(topic, group)
			l.logger.Error("failed to fetch message", zap.Error(err))
			if !l.wait(ctx) {
				return
			}
			continue
		}

		start := time.Now()
		outcome := l.deliver(ctx, msg)
		l.m.recorder.RecordDelivery(topic, group, outcome, time.Since(start))

		if !outcome.Redeliver() {
			l.backoff.Reset()
			continue
		}
		if !l.wait(ctx) {
			return
		}
		if err := l.consumer.Rewind(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("failed to rewind consumer to committed offset", zap.Error(err))
		}
	}
}

func (l *loop) release() {
	if err := l.consumer.Close(); err != nil {
		l.logger.Warn("failed to close consumer", zap.Error(err))
	}
	l.logger.Info("consumer loop stopped")
}

// wait sleeps for the next backoff interval. It reports false when ctx ends
// first.
func (l *loop) wait(ctx context.Context) bool {
	d := l.backoff.NextBackOff()
	if d < 0 {
		d = l.backoff.MaxInterval
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (l *loop) deliver(ctx context.Context, msg eventbus.Message) eventbus.Outcome {
	logger := l.logger.With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	if msg.Empty() {
		logger.Debug("skipping empty message")
		return eventbus.OutcomeEmpty
	}

	ctx = tracing.Extract(ctx, msg)
	ctx, span := l.m.tracer.StartSpan(ctx, "subscription.deliver", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(l.m.tracer.DeliveryAttributes(
		l.binding.Topic(), l.binding.Group(), l.binding.HandlerName(), msg.Partition, msg.Offset)...)

	outcome, err := l.process(ctx, logger, msg)
	if outcome.Redeliver() {
		outcome = l.park(ctx, logger, msg, outcome, err)
	}
	if outcome.Committed() {
		delete(l.attempts, position{msg.Partition, msg.Offset})
	}

	span.SetAttributes(attribute.String("eventbus.outcome", outcome.String()))
	l.m.tracer.End(ctx, span, err)

	return outcome
}

func (l *loop) process(ctx context.Context, logger *zap.Logger, msg eventbus.Message) (eventbus.Outcome, error) {
	event, err := l.binding.Decode(msg.Value)
	if err != nil {
		logger.Error("failed to deserialize message", zap.Error(err))
		return eventbus.OutcomePoison, err
	}
	logger = logger.With(zap.Stringer("eventId", event.EventID()))

	s, err := l.m.resolver.NewScope(ctx)
	if err != nil {
		logger.Warn("failed to open resolution scope", zap.Error(err))
		return eventbus.OutcomeUnresolved, err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close resolution scope", zap.Error(err))
		}
	}()

	handler, err := s.Resolve(l.binding.HandlerType())
	if err != nil {
		logger.Warn("no handler resolved, message left uncommitted", zap.Error(err))
		return eventbus.OutcomeUnresolved, err
	}

	if err := l.invoke(ctx, handler, event); err != nil {
		if errors.Is(err, eventbus.ErrHandlerMismatch) {
			logger.Warn("resolved handler cannot handle event, message left uncommitted", zap.Error(err))
			return eventbus.OutcomeUnresolved, err
		}
		logger.Error("handler failed, message left uncommitted", zap.Error(err))
		return eventbus.OutcomeFailed, err
	}

	if err := l.commit(ctx, msg); err != nil {
		logger.Error("failed to commit message", zap.Error(err))
		return eventbus.OutcomeCommitFailed, err
	}
	logger.Debug("message committed")

	return eventbus.OutcomeCommitted, nil
}

func (l *loop) invoke(ctx context.Context, handler any, event eventbus.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("handler %s panicked: %v", l.binding.HandlerName(), r)
		}
	}()

	return l.binding.Invoke(ctx, handler, event)
}

// commit outlives cancellation of ctx so a processed message is not
// redelivered because shutdown raced the commit.
func (l *loop) commit(ctx context.Context, msg eventbus.Message) error {
	ctx, cancel := l.detached(ctx)
	defer cancel()

	return l.consumer.Commit(ctx, msg)
}

func (l *loop) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if l.m.config.CommitTimeout > 0 {
		return context.WithTimeout(ctx, l.m.config.CommitTimeout)
	}
	return context.WithCancel(ctx)
}

// park moves msg to the dead-letter store once it has failed
// Config.MaxDeliveries times, then commits it. Any failure on the way keeps
// the original outcome so the message is redelivered.
func (l *loop) park(ctx context.Context, logger *zap.Logger, msg eventbus.Message, outcome eventbus.Outcome, cause error) eventbus.Outcome {
	if l.m.config.MaxDeliveries <= 0 || l.m.deadLetters == nil || outcome == eventbus.OutcomeCommitFailed {
		return outcome
	}

	pos := position{msg.Partition, msg.Offset}
	l.attempts[pos]++
	deliveries := l.attempts[pos]
	if deliveries < l.m.config.MaxDeliveries {
		return outcome
	}

	letter := deadletter.NewLetter(l.binding, msg, outcome, cause, deliveries)

	putCtx, cancel := l.detached(ctx)
	defer cancel()
	if err := l.m.deadLetters.Put(putCtx, letter); err != nil {
		logger.Error("failed to park message in dead-letter store", zap.Error(err))
		return outcome
	}
	if err := l.commit(ctx, msg); err != nil {
		logger.Error("failed to commit parked message", zap.Error(err))
		return outcome
	}

	logger.Warn("message parked in dead-letter store",
		zap.String("letterId", letter.ID),
		zap.Int("deliveries", deliveries),
		zap.String("reason", outcome.String()),
	)

	return eventbus.OutcomeDeadLettered
}
