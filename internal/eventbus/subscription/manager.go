package subscription

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"eventbus/internal/eventbus"
	"eventbus/internal/eventbus/tracing"
	"eventbus/internal/validator"
)

// Manager owns every consumer loop and its consumer handle. Loops are kept in
// a registry keyed by binding so they can be cancelled individually.
type Manager struct {
	consumers   eventbus.ConsumerFactory
	resolver    eventbus.Resolver
	logger      *zap.Logger
	config      Config
	deadLetters DeadLetters
	recorder    Recorder
	tracer      *tracing.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	loops  map[string][]*loop
	nextID uint64
	closed bool
}

func NewManager(
	consumers eventbus.ConsumerFactory,
	resolver eventbus.Resolver,
	logger *zap.Logger,
	config Config,
	opts ...Option,
) (*Manager, error) {
	if err := validator.Validate("subscription manager", consumers, resolver, logger); err != nil {
		return nil, err
	}
	if config.MaxDeliveries < 0 {
		return nil, fmt.Errorf("max deliveries must not be negative, got %d", config.MaxDeliveries)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		consumers: consumers,
		resolver:  resolver,
		logger:    logger.Named("subscriptions"),
		config:    config,
		recorder:  nopRecorder{},
		tracer:    tracing.Global("eventbus/subscription"),
		ctx:       ctx,
		cancel:    cancel,
		loops:     make(map[string][]*loop),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.config.MaxDeliveries > 0 && m.deadLetters == nil {
		m.logger.Warn("max deliveries set without a dead-letter store, failed messages are redelivered forever",
			zap.Int("maxDeliveries", m.config.MaxDeliveries))
	}

	return m, nil
}

// Subscribe opens a consumer for b and starts a loop for it in the
// background. Each call starts a new loop, even for a binding that already
// has one.
func (m *Manager) Subscribe(ctx context.Context, b eventbus.Binding) error {
	if !b.Valid() {
		return eventbus.ErrInvalidBinding
	}
	if m.isClosed() {
		return fmt.Errorf("subscribe %s: %w", b.Key(), eventbus.ErrClosed)
	}

	consumer, err := m.consumers.Open(ctx, b.Topic(), b.Group())
	if err != nil {
		return fmt.Errorf("failed to open consumer for %s: %w", b.Key(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		_ = consumer.Close()
		return fmt.Errorf("subscribe %s: %w", b.Key(), eventbus.ErrClosed)
	}

	m.nextID++
	loopCtx, cancel := context.WithCancel(m.ctx)
	l := newLoop(m, m.nextID, b, consumer, cancel)
	m.loops[b.Key()] = append(m.loops[b.Key()], l)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		l.run(loopCtx)
		m.forget(l)
	}()

	l.logger.Info("subscription started")

	return nil
}

// Unsubscribe cancels every loop running for b and waits until each one has
// released its consumer, or until ctx is done.
func (m *Manager) Unsubscribe(ctx context.Context, b eventbus.Binding) error {
	m.mu.Lock()
	loops := m.loops[b.Key()]
	delete(m.loops, b.Key())
	m.mu.Unlock()

	logger := m.logger.With(zap.String("topic", b.Topic()), zap.String("handler", b.HandlerName()))
	if len(loops) == 0 {
		logger.Warn("unsubscribe requested for binding without running loops")
		return fmt.Errorf("unsubscribe %s: %w", b.Key(), eventbus.ErrNotSubscribed)
	}

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		select {
		case <-l.done:
		case <-ctx.Done():
			return fmt.Errorf("failed waiting for loop %d of %s to stop: %w", l.id, b.Key(), ctx.Err())
		}
	}

	logger.Info("subscription stopped", zap.Int("loops", len(loops)))

	return nil
}

// Active returns the number of loops running for b.
func (m *Manager) Active(b eventbus.Binding) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.loops[b.Key()])
}

// Close stops every loop and waits for them to release their consumers.
// Subscribe fails with eventbus.ErrClosed afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all consumer loops stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed waiting for consumer loops to stop: %w", ctx.Err())
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func (m *Manager) forget(l *loop) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := l.binding.Key()
	var rest []*loop
	for _, other := range m.loops[key] {
		if other != l {
			rest = append(rest, other)
		}
	}
	if len(rest) == 0 {
		delete(m.loops, key)
		return
	}
	m.loops[key] = rest
}

var _ eventbus.Subscriber = (*Manager)(nil)
