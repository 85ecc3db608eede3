package deadletter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventbus/internal/eventbus"
)

type PaymentFailedEvent struct {
	eventbus.IntegrationEvent
}

type paymentHandler struct{}

func (paymentHandler) Handle(context.Context, *PaymentFailedEvent) error { return nil }

func TestNewLetter(t *testing.T) {
	b := eventbus.Bind[*PaymentFailedEvent, paymentHandler]()
	msg := eventbus.Message{
		Topic:     "PaymentFailedEvent",
		Partition: 3,
		Offset:    17,
		Key:       []byte("k"),
		Value:     []byte("{not json"),
	}

	l := NewLetter(b, msg, eventbus.OutcomePoison, errors.New("unexpected end of JSON input"), 5)

	assert.Equal(t, "deadletter::PaymentFailedEvent::PaymentFailedEvent-group::3::17", l.ID)
	assert.Equal(t, "PaymentFailedEvent", l.Topic)
	assert.Equal(t, "PaymentFailedEvent-group", l.Group)
	assert.Equal(t, "paymentHandler", l.Handler)
	assert.Equal(t, "{not json", l.Value)
	assert.Equal(t, "poison", l.Outcome)
	assert.Equal(t, "unexpected end of JSON input", l.Reason)
	assert.Equal(t, 5, l.Deliveries)
	assert.False(t, l.ParkedAt.IsZero())
}

func TestNewStoreValidatesDeps(t *testing.T) {
	_, err := NewStore(nil, nil, "", Config{Collection: "deadletters"})
	require.Error(t, err)
}

func TestListQueryFiltersTopicOldestFirst(t *testing.T) {
	query := listQuery("eventbus", "_default", "deadletters")

	assert.Equal(t,
		"SELECT RAW l FROM `eventbus`.`_default`.`deadletters` l WHERE l.topic = $topic ORDER BY l.parkedAt ASC LIMIT $limit",
		query,
	)
}
