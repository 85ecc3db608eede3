package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"eventbus/internal/eventbus"
	"eventbus/internal/validator"
)

// Producer is the shared outbound handle. kafka.Writer is safe for concurrent
// use, so one Producer serves every publisher in the process.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a writer that hashes message keys onto partitions and
// waits for every in-sync replica to acknowledge a write.
func NewProducer(cfg Config, logger *zap.Logger) (*Producer, error) {
	if err := validator.Validate("kafka producer", logger); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate kafka config: %w", err)
	}

	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	logger = logger.Named("kafka-producer")
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxAttempts,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		Compression:            codec,
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		Async:                  false,
		Logger:                 kafka.LoggerFunc(logger.Sugar().Debugf),
		ErrorLogger:            kafka.LoggerFunc(logger.Sugar().Errorf),
	}

	return &Producer{writer: w, logger: logger}, nil
}

// Send implements eventbus.Producer.
func (p *Producer) Send(ctx context.Context, msgs ...eventbus.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	kms := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		kms = append(kms, toKafka(m))
	}

	if err := p.writer.WriteMessages(ctx, kms...); err != nil {
		return fmt.Errorf("kafka write failed: %w", err)
	}

	return nil
}

// Close flushes pending writes and releases the writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}

	return nil
}

var _ eventbus.Producer = (*Producer)(nil)
