package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"eventbus/internal/eventbus"
	"eventbus/internal/validator"
)

// ConsumerFactory opens one group reader per consumer loop.
type ConsumerFactory struct {
	cfg    Config
	logger *zap.Logger
}

func NewConsumerFactory(cfg Config, logger *zap.Logger) (*ConsumerFactory, error) {
	if err := validator.Validate("kafka consumer factory", logger); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate kafka config: %w", err)
	}

	return &ConsumerFactory{cfg: cfg, logger: logger.Named("kafka-consumer")}, nil
}

// Open implements eventbus.ConsumerFactory.
func (f *ConsumerFactory) Open(_ context.Context, topic, group string) (eventbus.Consumer, error) {
	if topic == "" || group == "" {
		return nil, fmt.Errorf("topic and group are required, got topic %q group %q", topic, group)
	}

	return newConsumer(f.readerConfig(topic, group)), nil
}

// readerConfig starts new groups at the earliest retained offset. A zero
// CommitInterval makes CommitMessages synchronous; offsets are only ever
// committed through Commit.
func (f *ConsumerFactory) readerConfig(topic, group string) kafka.ReaderConfig {
	logger := f.logger.With(zap.String("topic", topic), zap.String("group", group))

	return kafka.ReaderConfig{
		Brokers:        f.cfg.Brokers,
		Topic:          topic,
		GroupID:        group,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
		MinBytes:       f.cfg.MinBytes,
		MaxBytes:       f.cfg.MaxBytes,
		MaxWait:        f.cfg.MaxWait,
		Logger:         kafka.LoggerFunc(logger.Sugar().Debugf),
		ErrorLogger:    kafka.LoggerFunc(logger.Sugar().Errorf),
	}
}

// Consumer wraps a group reader. Rewind recreates the reader, which rejoins
// the group and resumes from the last committed offset.
type Consumer struct {
	config kafka.ReaderConfig

	mu     sync.Mutex
	reader *kafka.Reader
	closed bool
}

func newConsumer(config kafka.ReaderConfig) *Consumer {
	return &Consumer{
		config: config,
		reader: kafka.NewReader(config),
	}
}

// Fetch implements eventbus.Consumer.
func (c *Consumer) Fetch(ctx context.Context) (eventbus.Message, error) {
	r, err := c.current()
	if err != nil {
		return eventbus.Message{}, err
	}

	km, err := r.FetchMessage(ctx)
	if err != nil {
		return eventbus.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}

	return fromKafka(km), nil
}

// Commit implements eventbus.Consumer.
func (c *Consumer) Commit(ctx context.Context, msg eventbus.Message) error {
	r, err := c.current()
	if err != nil {
		return err
	}

	if err := r.CommitMessages(ctx, toKafka(msg)); err != nil {
		return fmt.Errorf("failed to commit offset %d on partition %d: %w", msg.Offset, msg.Partition, err)
	}

	return nil
}

// Rewind implements eventbus.Consumer.
func (c *Consumer) Rewind(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return eventbus.ErrClosed
	}

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader for rewind: %w", err)
	}
	c.reader = kafka.NewReader(c.config)

	return nil
}

// Close implements eventbus.Consumer.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}

	return nil
}

func (c *Consumer) current() (*kafka.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, eventbus.ErrClosed
	}

	return c.reader, nil
}

var (
	_ eventbus.ConsumerFactory = (*ConsumerFactory)(nil)
	_ eventbus.Consumer        = (*Consumer)(nil)
)
