package couchlog

import (
	"errors"
	"time"
)

type Config struct {
	Shards             int           `env:"COUCHLOG_SHARDS" envDefault:"1"`
	BatchSize          int           `env:"COUCHLOG_BATCH_SIZE" envDefault:"50"`
	PollInterval       time.Duration `env:"COUCHLOG_POLL_INTERVAL" envDefault:"250ms"`
	LeaseTTL           time.Duration `env:"COUCHLOG_LEASE_TTL" envDefault:"30s"`
	TransactionTimeout time.Duration `env:"COUCHLOG_TRANSACTION_TIMEOUT" envDefault:"10s"`
}

func (c Config) Validate() error {
	var errs []error
	if c.Shards < 1 {
		errs = append(errs, errors.New("shards must be at least 1"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, errors.New("batch size must be at least 1"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.LeaseTTL <= 0 {
		errs = append(errs, errors.New("lease ttl must be positive"))
	}

	return errors.Join(errs...)
}
