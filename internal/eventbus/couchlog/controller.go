package couchlog

import (
	"context"
	"time"
)

// Controller is the storage layer of the log. Broker and Consumer only talk
// to the log through it.
type Controller interface {
	// Append writes records to the end of a shard atomically and returns the
	// offset assigned to the first one.
	Append(ctx context.Context, topic string, shard int, records []Record) (uint64, error)

	// LoadRecords returns up to limit records of a shard starting at offset
	// from, in offset order.
	LoadRecords(ctx context.Context, topic string, shard int, from uint64, limit int) ([]Record, error)

	// GetCursor returns the next offset the group reads from the shard. A
	// group without a cursor starts at 0.
	GetCursor(ctx context.Context, topic, group string, shard int) (uint64, error)

	// CommitCursor moves the group cursor forward to next. It never moves a
	// cursor backwards.
	CommitCursor(ctx context.Context, topic, group string, shard int, next uint64) error

	// AcquireLease takes or renews the shard lease for owner. It reports false
	// when another owner holds the lease.
	AcquireLease(ctx context.Context, topic, group string, shard int, owner string, ttl time.Duration) (bool, error)

	// ReleaseLease gives up the lease if owner still holds it.
	ReleaseLease(ctx context.Context, topic, group string, shard int, owner string) error
}
