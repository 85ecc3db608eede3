package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"eventbus/internal/eventbus"
	"eventbus/internal/eventbus/brokertest"
	"eventbus/internal/eventbus/deadletter"
	"eventbus/internal/eventbus/publisher"
	"eventbus/internal/scope"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type OrderCreatedEvent struct {
	eventbus.IntegrationEvent
	OrderID string `json:"orderId"`
}

func newOrder(id string) *OrderCreatedEvent {
	return &OrderCreatedEvent{IntegrationEvent: eventbus.NewIntegrationEvent(), OrderID: id}
}

// ledger is shared by all handler instances of a test.
type ledger struct {
	mu        sync.Mutex
	handled   map[uuid.UUID][]string
	instances int
	maxCalls  int
	failures  map[uuid.UUID]int
	panics    map[uuid.UUID]int
}

func newLedger() *ledger {
	return &ledger{
		handled:  make(map[uuid.UUID][]string),
		failures: make(map[uuid.UUID]int),
		panics:   make(map[uuid.UUID]int),
	}
}

func (l *ledger) failNext(id uuid.UUID, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[id] = n
}

func (l *ledger) panicNext(id uuid.UUID, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.panics[id] = n
}

func (l *ledger) record(handler string, calls int, e *OrderCreatedEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maxCalls = max(l.maxCalls, calls)
	if l.panics[e.ID] > 0 {
		l.panics[e.ID]--
		panic("order store unavailable")
	}
	if l.failures[e.ID] > 0 {
		l.failures[e.ID]--
		return errors.New("order store unavailable")
	}
	l.handled[e.ID] = append(l.handled[e.ID], handler)

	return nil
}

func (l *ledger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, handlers := range l.handled {
		n += len(handlers)
	}
	return n
}

func (l *ledger) handlersOf(id uuid.UUID) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.handled[id]...)
}

type OrderCreatedHandler struct {
	ledger *ledger
	calls  int
}

func (h *OrderCreatedHandler) Handle(_ context.Context, e *OrderCreatedEvent) error {
	h.calls++
	return h.ledger.record("created", h.calls, e)
}

type OrderAuditHandler struct {
	ledger *ledger
	calls  int
}

func (h *OrderAuditHandler) Handle(_ context.Context, e *OrderCreatedEvent) error {
	h.calls++
	return h.ledger.record("audit", h.calls, e)
}

func provideHandlers(c *scope.Container, l *ledger) {
	scope.Provide(c, func(*scope.Scope) (*OrderCreatedHandler, error) {
		l.mu.Lock()
		l.instances++
		l.mu.Unlock()
		return &OrderCreatedHandler{ledger: l}, nil
	})
	scope.Provide(c, func(*scope.Scope) (*OrderAuditHandler, error) {
		return &OrderAuditHandler{ledger: l}, nil
	})
}

type outcomes struct {
	mu   sync.Mutex
	seen []eventbus.Outcome
	open map[string]int
}

func newOutcomes() *outcomes {
	return &outcomes{open: make(map[string]int)}
}

func (o *outcomes) RecordDelivery(_, _ string, outcome eventbus.Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, outcome)
}

func (o *outcomes) RecordFetchError(string, string) {}

func (o *outcomes) LoopStarted(topic, handler string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open[topic+"/"+handler]++
}

func (o *outcomes) LoopStopped(topic, handler string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open[topic+"/"+handler]--
}

func (o *outcomes) contains(want eventbus.Outcome) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, got := range o.seen {
		if got == want {
			return true
		}
	}
	return false
}

type letters struct {
	mu     sync.Mutex
	parked []deadletter.Letter
	err    error
}

func (l *letters) Put(_ context.Context, letter deadletter.Letter) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	l.parked = append(l.parked, letter)
	return nil
}

func (l *letters) all() []deadletter.Letter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]deadletter.Letter(nil), l.parked...)
}

type fixture struct {
	broker    *brokertest.Broker
	container *scope.Container
	ledger    *ledger
	outcomes  *outcomes
	manager   *Manager
}

var (
	createdBinding = eventbus.Bind[*OrderCreatedEvent, *OrderCreatedHandler]()
	auditBinding   = eventbus.Bind[*OrderCreatedEvent, *OrderAuditHandler]()
)

func testConfig() Config {
	return Config{
		RedeliveryInitialInterval: time.Millisecond,
		RedeliveryMaxInterval:     5 * time.Millisecond,
		CommitTimeout:             time.Second,
	}
}

func newFixture(t *testing.T, logger *zap.Logger, config Config, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		broker:    brokertest.NewBroker(),
		container: scope.New(),
		ledger:    newLedger(),
		outcomes:  newOutcomes(),
	}
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}

	opts = append([]Option{WithRecorder(f.outcomes)}, opts...)
	m, err := NewManager(f.broker, f.container, logger, config, opts...)
	require.NoError(t, err)
	f.manager = m

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, m.Close(ctx))
	})

	return f
}

func (f *fixture) publish(t *testing.T, events ...*OrderCreatedEvent) {
	t.Helper()

	for _, e := range events {
		msg, err := publisher.Encode(e)
		require.NoError(t, err)
		require.NoError(t, f.broker.Send(context.Background(), msg))
	}
}

func (f *fixture) send(t *testing.T, value []byte) {
	t.Helper()

	require.NoError(t, f.broker.Send(context.Background(), eventbus.Message{
		Topic: createdBinding.Topic(),
		Value: value,
	}))
}

func (f *fixture) commits() []int64 {
	return f.broker.Commits(createdBinding.Topic(), createdBinding.Group())
}

func (f *fixture) deliveries(offset int64) int {
	return f.broker.Deliveries(createdBinding.Topic(), createdBinding.Group(), offset)
}

func TestNewManagerValidatesDeps(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewManager(nil, scope.New(), logger, Config{})
	require.Error(t, err)

	_, err = NewManager(brokertest.NewBroker(), nil, logger, Config{})
	require.Error(t, err)

	_, err = NewManager(brokertest.NewBroker(), scope.New(), logger, Config{MaxDeliveries: -1})
	require.Error(t, err)
}

func TestSubscribeRejectsZeroBinding(t *testing.T) {
	f := newFixture(t, nil, testConfig())

	err := f.manager.Subscribe(context.Background(), eventbus.Binding{})
	require.ErrorIs(t, err, eventbus.ErrInvalidBinding)
}

func TestSuccessfulDeliveryCommitsExactlyOnce(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)
	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))

	first, second := newOrder("o-1"), newOrder("o-2")
	f.publish(t, first)

	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, waitFor, tick)
	assert.Equal(t, []int64{0}, f.commits())
	assert.Equal(t, []string{"created"}, f.ledger.handlersOf(first.ID))

	f.publish(t, second)

	require.Eventually(t, func() bool { return len(f.commits()) == 2 }, waitFor, tick)
	assert.Equal(t, []int64{0, 1}, f.commits())
	assert.Equal(t, 1, f.deliveries(0))
	assert.Equal(t, 1, f.deliveries(1))
	assert.True(t, f.outcomes.contains(eventbus.OutcomeCommitted))
}

func TestHandlerFailureLeavesMessageForRedelivery(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)

	order := newOrder("o-1")
	f.ledger.failNext(order.ID, 1)

	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))
	f.publish(t, order)

	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, waitFor, tick)
	assert.Equal(t, []int64{0}, f.commits())
	assert.Equal(t, 2, f.deliveries(0))
	assert.Equal(t, []string{"created"}, f.ledger.handlersOf(order.ID))
	assert.True(t, f.outcomes.contains(eventbus.OutcomeFailed))
}

func TestHandlerPanicIsTreatedAsFailure(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)

	order := newOrder("o-1")
	f.ledger.panicNext(order.ID, 1)

	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))
	f.publish(t, order)

	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, waitFor, tick)
	assert.Equal(t, 2, f.deliveries(0))
	assert.True(t, f.outcomes.contains(eventbus.OutcomeFailed))
}

func TestUnresolvedHandlerLeavesMessageUncommitted(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core), testConfig())

	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))
	order := newOrder("o-1")
	f.publish(t, order)

	require.Eventually(t, func() bool { return f.deliveries(0) >= 2 }, waitFor, tick)
	assert.Empty(t, f.commits())
	assert.True(t, f.outcomes.contains(eventbus.OutcomeUnresolved))
	assert.NotZero(t, logs.FilterMessage("no handler resolved, message left uncommitted").Len())

	// A handler registered later picks up the retained message.
	provideHandlers(f.container, f.ledger)

	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"created"}, f.ledger.handlersOf(order.ID))
}

func TestEmptyMessageIsSkippedWithoutCommit(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)
	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))

	f.send(t, nil)
	f.publish(t, newOrder("o-1"))

	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, waitFor, tick)
	assert.Equal(t, []int64{1}, f.commits())
	assert.Equal(t, 1, f.deliveries(0))
	assert.Equal(t, 1, f.ledger.count())
	assert.True(t, f.outcomes.contains(eventbus.OutcomeEmpty))
}

func TestPoisonMessageIsRedeliveredWithoutLimit(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)
	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))

	f.send(t, []byte("{not json"))

	require.Eventually(t, func() bool { return f.deliveries(0) >= 3 }, waitFor, tick)
	assert.Empty(t, f.commits())
	assert.Zero(t, f.ledger.count())
	assert.True(t, f.outcomes.contains(eventbus.OutcomePoison))
}

func TestPoisonMessageIsParkedAfterMaxDeliveries(t *testing.T) {
	dead := &letters{}
	config := testConfig()
	config.MaxDeliveries = 3

	f := newFixture(t, nil, config, WithDeadLetters(dead))
	provideHandlers(f.container, f.ledger)
	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))

	f.send(t, []byte("{not json"))
	order := newOrder("o-1")
	f.publish(t, order)

	require.Eventually(t, func() bool { return len(f.commits()) == 2 }, waitFor, tick)
	assert.Equal(t, []int64{0, 1}, f.commits())
	assert.Equal(t, 3, f.deliveries(0))
	assert.Equal(t, []string{"created"}, f.ledger.handlersOf(order.ID))

	parked := dead.all()
	require.Len(t, parked, 1)
	assert.Equal(t, createdBinding.Topic(), parked[0].Topic)
	assert.Equal(t, createdBinding.Group(), parked[0].Group)
	assert.Equal(t, int64(0), parked[0].Offset)
	assert.Equal(t, 3, parked[0].Deliveries)
	assert.Equal(t, eventbus.OutcomePoison.String(), parked[0].Outcome)
	assert.True(t, f.outcomes.contains(eventbus.OutcomeDeadLettered))
}

func TestDeadLetterFailureKeepsMessage(t *testing.T) {
	dead := &letters{err: errors.New("bucket unavailable")}
	config := testConfig()
	config.MaxDeliveries = 1

	f := newFixture(t, nil, config, WithDeadLetters(dead))
	provideHandlers(f.container, f.ledger)
	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))

	f.send(t, []byte("{not json"))

	require.Eventually(t, func() bool { return f.deliveries(0) >= 3 }, waitFor, tick)
	assert.Empty(t, f.commits())
	assert.Empty(t, dead.all())
}

func TestHandlerTypesOfOneEventShareConsumerGroup(t *testing.T) {
	require.Equal(t, createdBinding.Topic(), auditBinding.Topic())
	require.Equal(t, createdBinding.Group(), auditBinding.Group())
	require.NotEqual(t, createdBinding.Key(), auditBinding.Key())

	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)
	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))
	require.NoError(t, f.manager.Subscribe(context.Background(), auditBinding))

	orders := make([]*OrderCreatedEvent, 20)
	for i := range orders {
		orders[i] = newOrder(uuid.NewString())
	}
	f.publish(t, orders...)

	require.Eventually(t, func() bool { return len(f.commits()) == len(orders) }, waitFor, tick)
	for _, o := range orders {
		// each message is consumed by exactly one member of the group
		assert.Len(t, f.ledger.handlersOf(o.ID), 1)
	}
	assert.Equal(t, len(orders), f.ledger.count())
}

func TestNewHandlerInstancePerMessage(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)
	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))

	f.publish(t, newOrder("o-1"), newOrder("o-2"), newOrder("o-3"))

	require.Eventually(t, func() bool { return len(f.commits()) == 3 }, waitFor, tick)

	f.ledger.mu.Lock()
	defer f.ledger.mu.Unlock()
	assert.Equal(t, 3, f.ledger.instances)
	assert.Equal(t, 1, f.ledger.maxCalls)
}

func TestSubscribeTwiceStartsTwoLoops(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)

	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))
	require.NoError(t, f.manager.Subscribe(context.Background(), createdBinding))

	assert.Equal(t, 2, f.manager.Active(createdBinding))
	assert.Equal(t, 2, f.broker.OpenConsumers(createdBinding.Topic(), createdBinding.Group()))
	assert.Zero(t, f.manager.Active(auditBinding))
}

func TestFailedMessageSurvivesCommitsOfOtherGroupMembers(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)

	orders := make([]*OrderCreatedEvent, 0, 10)
	for i := range 10 {
		orders = append(orders, newOrder(fmt.Sprintf("o-%d", i)))
	}
	f.ledger.failNext(orders[0].ID, 2)

	ctx := context.Background()
	require.NoError(t, f.manager.Subscribe(ctx, createdBinding))
	require.NoError(t, f.manager.Subscribe(ctx, createdBinding))
	f.publish(t, orders...)

	require.Eventually(t, func() bool {
		for _, o := range orders {
			if len(f.ledger.handlersOf(o.ID)) == 0 {
				return false
			}
		}
		return true
	}, waitFor, tick)

	assert.Equal(t, []string{"created"}, f.ledger.handlersOf(orders[0].ID))
	assert.Equal(t, 3, f.deliveries(0))
	assert.Contains(t, f.commits(), int64(0))
}

func TestUnsubscribeStopsConsumption(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)
	ctx := context.Background()

	require.NoError(t, f.manager.Subscribe(ctx, createdBinding))
	require.NoError(t, f.manager.Subscribe(ctx, createdBinding))
	f.publish(t, newOrder("o-1"))
	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, waitFor, tick)

	require.NoError(t, f.manager.Unsubscribe(ctx, createdBinding))
	assert.Zero(t, f.manager.Active(createdBinding))
	assert.Zero(t, f.broker.OpenConsumers(createdBinding.Topic(), createdBinding.Group()))

	f.publish(t, newOrder("o-2"))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.deliveries(1))
	assert.Equal(t, 1, f.ledger.count())

	err := f.manager.Unsubscribe(ctx, createdBinding)
	require.ErrorIs(t, err, eventbus.ErrNotSubscribed)
}

func TestUnsubscribeOnlyStopsMatchingBinding(t *testing.T) {
	f := newFixture(t, nil, testConfig())
	provideHandlers(f.container, f.ledger)
	ctx := context.Background()

	require.NoError(t, f.manager.Subscribe(ctx, createdBinding))
	require.NoError(t, f.manager.Subscribe(ctx, auditBinding))
	require.NoError(t, f.manager.Unsubscribe(ctx, createdBinding))

	assert.Equal(t, 1, f.manager.Active(auditBinding))

	order := newOrder("o-1")
	f.publish(t, order)
	require.Eventually(t, func() bool { return len(f.commits()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"audit"}, f.ledger.handlersOf(order.ID))
}

func TestCloseStopsEveryLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	broker := brokertest.NewBroker()
	container := scope.New()
	rec := newOutcomes()
	m, err := NewManager(broker, container, zap.NewNop(), testConfig(), WithRecorder(rec))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Subscribe(ctx, createdBinding))
	require.NoError(t, m.Subscribe(ctx, auditBinding))

	closeCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, m.Close(closeCtx))

	assert.Zero(t, broker.OpenConsumers(createdBinding.Topic(), createdBinding.Group()))
	assert.Zero(t, m.Active(createdBinding))
	assert.Zero(t, m.Active(auditBinding))
	rec.mu.Lock()
	for loop, n := range rec.open {
		assert.Zero(t, n, loop)
	}
	rec.mu.Unlock()

	err = m.Subscribe(ctx, createdBinding)
	require.ErrorIs(t, err, eventbus.ErrClosed)
}
