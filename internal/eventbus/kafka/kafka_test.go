package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"eventbus/internal/eventbus"
)

func testConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Compression:  "snappy",
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: time.Second,
		MaxAttempts:  3,
		MinBytes:     1,
		MaxBytes:     1 << 20,
		MaxWait:      time.Second,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	cfg := testConfig()
	cfg.Brokers = nil
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Brokers = []string{"localhost:9092", ""}
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.Compression = "brotli"
	require.Error(t, cfg.Validate())
}

func TestParseCompression(t *testing.T) {
	tests := map[string]compress.Compression{
		"":       compress.None,
		"none":   compress.None,
		"gzip":   compress.Gzip,
		"snappy": compress.Snappy,
		"lz4":    compress.Lz4,
		"zstd":   compress.Zstd,
	}
	for name, want := range tests {
		got, err := parseCompression(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestMessageConversion(t *testing.T) {
	now := time.Now().UTC()
	m := eventbus.Message{
		Topic:     "OrderCreatedEvent",
		Partition: 2,
		Offset:    41,
		Key:       []byte("key"),
		Value:     []byte(`{"id":"x"}`),
		Headers:   []eventbus.Header{{Key: "traceparent", Value: []byte("00-abc")}},
		Time:      now,
	}

	km := toKafka(m)
	assert.Equal(t, "OrderCreatedEvent", km.Topic)
	assert.Equal(t, 2, km.Partition)
	assert.Equal(t, int64(41), km.Offset)
	require.Len(t, km.Headers, 1)
	assert.Equal(t, kafka.Header{Key: "traceparent", Value: []byte("00-abc")}, km.Headers[0])

	assert.Equal(t, m, fromKafka(km))
}

func TestReaderConfigUsesManualCommitFromEarliest(t *testing.T) {
	f, err := NewConsumerFactory(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	rc := f.readerConfig("OrderCreatedEvent", "OrderCreatedEvent-group")
	assert.Equal(t, "OrderCreatedEvent", rc.Topic)
	assert.Equal(t, "OrderCreatedEvent-group", rc.GroupID)
	assert.Equal(t, kafka.FirstOffset, rc.StartOffset)
	assert.Zero(t, rc.CommitInterval)
	assert.Equal(t, []string{"localhost:9092"}, rc.Brokers)

	_, err = f.Open(context.Background(), "", "group")
	require.Error(t, err)
}

func TestNewProducer(t *testing.T) {
	_, err := NewProducer(testConfig(), nil)
	require.Error(t, err)

	cfg := testConfig()
	cfg.Brokers = nil
	_, err = NewProducer(cfg, zaptest.NewLogger(t))
	require.Error(t, err)

	p, err := NewProducer(testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)
	assert.IsType(t, &kafka.Hash{}, p.writer.Balancer)
	assert.Empty(t, p.writer.Topic)

	require.NoError(t, p.Send(context.Background()))
	require.NoError(t, p.Close())
}
