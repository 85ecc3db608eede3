package eventbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"eventbus/internal/eventbus"
)

type InvoiceIssuedEvent struct {
	eventbus.IntegrationEvent
	InvoiceID string `json:"invoiceId"`
	Amount    int    `json:"amount"`
}

type InvoiceHandler struct {
	eventbus.BaseHandler[*InvoiceIssuedEvent]
	processed []string
	err       error
}

func newInvoiceHandler(logger *zap.Logger, err error) *InvoiceHandler {
	h := &InvoiceHandler{err: err}
	h.BaseHandler = eventbus.NewBaseHandler[*InvoiceIssuedEvent](logger, h)
	return h
}

func (h *InvoiceHandler) ProcessEvent(_ context.Context, e *InvoiceIssuedEvent) error {
	if h.err != nil {
		return h.err
	}
	h.processed = append(h.processed, e.InvoiceID)
	return nil
}

type ledgerHandler struct{}

func (ledgerHandler) Handle(context.Context, InvoiceIssuedEvent) error { return nil }

func TestNewIntegrationEvent(t *testing.T) {
	before := time.Now().UTC()
	a := eventbus.NewIntegrationEvent()
	b := eventbus.NewIntegrationEvent()

	assert.NotEqual(t, a.EventID(), b.EventID())
	assert.Equal(t, time.UTC, a.OccurredAt().Location())
	assert.False(t, a.OccurredAt().Before(before))
}

func TestIntegrationEventJSON(t *testing.T) {
	e := InvoiceIssuedEvent{IntegrationEvent: eventbus.NewIntegrationEvent(), InvoiceID: "inv-1", Amount: 42}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, e.ID.String(), fields["id"])
	assert.Contains(t, fields, "occurredAt")
	assert.Equal(t, "inv-1", fields["invoiceId"])

	decoded, err := eventbus.Decode[*InvoiceIssuedEvent](data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, decoded.ID)
	assert.True(t, e.CreationDate.Equal(decoded.CreationDate))
	assert.Equal(t, 42, decoded.Amount)
}

func TestIsNil(t *testing.T) {
	var typed *InvoiceIssuedEvent

	assert.True(t, eventbus.IsNil(nil))
	assert.True(t, eventbus.IsNil(typed))
	assert.False(t, eventbus.IsNil(&InvoiceIssuedEvent{}))
	assert.False(t, eventbus.IsNil(InvoiceIssuedEvent{}))
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "InvoiceIssuedEvent", eventbus.TypeName[*InvoiceIssuedEvent]())
	assert.Equal(t, "InvoiceIssuedEvent", eventbus.TypeName[InvoiceIssuedEvent]())
	assert.Equal(t, "InvoiceIssuedEvent", eventbus.TypeNameOf(&InvoiceIssuedEvent{}))
	assert.Equal(t, "InvoiceIssuedEvent", eventbus.TopicName[*InvoiceIssuedEvent]())
	assert.Equal(t, "InvoiceIssuedEvent-group", eventbus.GroupName("InvoiceIssuedEvent"))
}

func TestBind(t *testing.T) {
	b := eventbus.Bind[*InvoiceIssuedEvent, *InvoiceHandler]()

	assert.True(t, b.Valid())
	assert.False(t, eventbus.Binding{}.Valid())
	assert.Equal(t, "InvoiceIssuedEvent", b.EventName())
	assert.Equal(t, "InvoiceIssuedEvent", b.Topic())
	assert.Equal(t, "InvoiceIssuedEvent-group", b.Group())
	assert.Equal(t, "InvoiceHandler", b.HandlerName())

	other := eventbus.Bind[InvoiceIssuedEvent, ledgerHandler]()
	assert.Equal(t, b.Topic(), other.Topic())
	assert.Equal(t, b.Group(), other.Group())
	assert.NotEqual(t, b.Key(), other.Key())
}

func TestBindingDecodeAndInvoke(t *testing.T) {
	b := eventbus.Bind[*InvoiceIssuedEvent, *InvoiceHandler]()
	h := newInvoiceHandler(zap.NewNop(), nil)

	event, err := b.Decode([]byte(`{"id":"5f0c6a1e-3c1a-4b8e-9d55-3f0b1f3c2a11","invoiceId":"inv-7"}`))
	require.NoError(t, err)
	require.NoError(t, b.Invoke(context.Background(), h, event))
	assert.Equal(t, []string{"inv-7"}, h.processed)

	_, err = b.Decode([]byte("{broken"))
	require.Error(t, err)

	err = b.Invoke(context.Background(), ledgerHandler{}, event)
	require.ErrorIs(t, err, eventbus.ErrHandlerMismatch)
}

func TestBaseHandlerLogsBeforeProcessing(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newInvoiceHandler(zap.New(core), nil)
	e := &InvoiceIssuedEvent{IntegrationEvent: eventbus.NewIntegrationEvent(), InvoiceID: "inv-1"}

	require.NoError(t, h.Handle(context.Background(), e))
	assert.Equal(t, []string{"inv-1"}, h.processed)

	entries := logs.FilterMessage("handling integration event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "InvoiceIssuedEvent", fields["eventType"])
	assert.Equal(t, e.ID.String(), fields["eventId"])
	assert.Contains(t, fields, "event")
}

func TestBaseHandlerReturnsProcessorError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	boom := errors.New("ledger locked")
	h := newInvoiceHandler(zap.New(core), boom)
	e := &InvoiceIssuedEvent{IntegrationEvent: eventbus.NewIntegrationEvent()}

	err := h.Handle(context.Background(), e)
	require.Same(t, boom, err)

	entries := logs.FilterMessage("failed to process integration event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		outcome   eventbus.Outcome
		name      string
		committed bool
		redeliver bool
	}{
		{eventbus.OutcomeCommitted, "committed", true, false},
		{eventbus.OutcomeEmpty, "empty", false, false},
		{eventbus.OutcomePoison, "poison", false, true},
		{eventbus.OutcomeUnresolved, "unresolved", false, true},
		{eventbus.OutcomeFailed, "failed", false, true},
		{eventbus.OutcomeCommitFailed, "commit_failed", false, true},
		{eventbus.OutcomeDeadLettered, "dead_lettered", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.outcome.String())
			assert.Equal(t, tt.committed, tt.outcome.Committed())
			assert.Equal(t, tt.redeliver, tt.outcome.Redeliver())
		})
	}
}

func TestMessageEmpty(t *testing.T) {
	assert.True(t, eventbus.Message{}.Empty())
	assert.False(t, eventbus.Message{Value: []byte("{}")}.Empty())
}
