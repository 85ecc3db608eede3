// Package kafka adapts github.com/segmentio/kafka-go to the eventbus broker
// interfaces.
package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go/compress"
)

// Config holds broker connection and client tuning settings.
type Config struct {
	Brokers                []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Compression            string        `env:"KAFKA_COMPRESSION" envDefault:"snappy"`
	BatchTimeout           time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"10ms"`
	WriteTimeout           time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
	MaxAttempts            int           `env:"KAFKA_MAX_ATTEMPTS" envDefault:"3"`
	AllowAutoTopicCreation bool          `env:"KAFKA_ALLOW_AUTO_TOPIC_CREATION" envDefault:"true"`
	MinBytes               int           `env:"KAFKA_MIN_BYTES" envDefault:"1"`
	MaxBytes               int           `env:"KAFKA_MAX_BYTES" envDefault:"10485760"`
	MaxWait                time.Duration `env:"KAFKA_MAX_WAIT" envDefault:"1s"`
}

// Validate checks the settings both the producer and consumers rely on.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one broker address is required")
	}
	for i, b := range c.Brokers {
		if b == "" {
			return fmt.Errorf("broker address at index %d is empty", i)
		}
	}
	if _, err := parseCompression(c.Compression); err != nil {
		return err
	}

	return nil
}

func parseCompression(name string) (compress.Compression, error) {
	switch name {
	case "none", "":
		return compress.None, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	default:
		return compress.None, fmt.Errorf("invalid compression type: %s", name)
	}
}
