package couchlog

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"eventbus/internal/eventbus"
	"eventbus/internal/validator"
)

// Broker implements eventbus.Producer and eventbus.ConsumerFactory on top of
// a Controller.
type Broker struct {
	controller Controller
	config     Config
	logger     *zap.Logger
}

func NewBroker(controller Controller, config Config, logger *zap.Logger) (*Broker, error) {
	if err := validator.Validate("couchlog broker", controller, logger); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid couchlog config: %w", err)
	}

	return &Broker{
		controller: controller,
		config:     config,
		logger:     logger.Named("couchlog"),
	}, nil
}

type shardKey struct {
	topic string
	shard int
}

// Send appends msgs to their topics. Messages with the same key land in the
// same shard and keep their relative order.
func (b *Broker) Send(ctx context.Context, msgs ...eventbus.Message) error {
	var order []shardKey
	batches := make(map[shardKey][]Record)

	for _, msg := range msgs {
		k := shardKey{topic: msg.Topic, shard: b.shardFor(msg.Key)}
		if _, ok := batches[k]; !ok {
			order = append(order, k)
		}
		batches[k] = append(batches[k], toRecord(msg))
	}

	for _, k := range order {
		first, err := b.controller.Append(ctx, k.topic, k.shard, batches[k])
		if err != nil {
			const errMsg = "failed to append records"
			b.logger.Error(errMsg, zap.String("topic", k.topic), zap.Int("shard", k.shard), zap.Error(err))
			return fmt.Errorf(errMsg+" to %s shard %d: %w", k.topic, k.shard, err)
		}
		b.logger.Debug("records appended",
			zap.String("topic", k.topic),
			zap.Int("shard", k.shard),
			zap.Uint64("firstOffset", first),
			zap.Int("count", len(batches[k])),
		)
	}

	return nil
}

// Close is a no-op; the Couchbase cluster is owned by the caller.
func (b *Broker) Close() error {
	return nil
}

func (b *Broker) Open(_ context.Context, topic, group string) (eventbus.Consumer, error) {
	return newConsumer(b.controller, b.config, b.logger, topic, group), nil
}

func (b *Broker) shardFor(key []byte) int {
	if b.config.Shards <= 1 || len(key) == 0 {
		return 0
	}

	h := fnv.New32a()
	_, _ = h.Write(key)

	return int(h.Sum32() % uint32(b.config.Shards))
}

func toRecord(msg eventbus.Message) Record {
	published := msg.Time
	if published.IsZero() {
		published = time.Now().UTC()
	}

	headers := make([]Header, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		headers = append(headers, Header{Key: h.Key, Value: h.Value})
	}

	return Record{
		Key:         msg.Key,
		Value:       msg.Value,
		Headers:     headers,
		PublishTime: published,
	}
}

func fromRecord(rec Record) eventbus.Message {
	headers := make([]eventbus.Header, 0, len(rec.Headers))
	for _, h := range rec.Headers {
		headers = append(headers, eventbus.Header{Key: h.Key, Value: h.Value})
	}

	return eventbus.Message{
		Topic:     rec.Topic,
		Partition: rec.Shard,
		Offset:    int64(rec.Offset),
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   headers,
		Time:      rec.PublishTime,
	}
}

var (
	_ eventbus.Producer        = (*Broker)(nil)
	_ eventbus.ConsumerFactory = (*Broker)(nil)
)
