package couchlog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventbus/internal/eventbus"
)

type shardState struct {
	next     uint64
	buffered []Record
	renewed  time.Time
}

// Consumer reads the shards of one topic whose lease it holds for its group.
// It is driven by a single goroutine.
type Consumer struct {
	controller Controller
	config     Config
	logger     *zap.Logger
	topic      string
	group      string
	owner      string

	closed    atomic.Bool
	shards    map[int]*shardState
	lastClaim time.Time
	turn      int
}

func newConsumer(controller Controller, config Config, logger *zap.Logger, topic, group string) *Consumer {
	owner := uuid.NewString()

	return &Consumer{
		controller: controller,
		config:     config,
		logger: logger.With(
			zap.String("topic", topic),
			zap.String("group", group),
			zap.String("owner", owner),
		),
		topic:  topic,
		group:  group,
		owner:  owner,
		shards: make(map[int]*shardState),
	}
}

// Fetch blocks until a record is available in a leased shard.
func (c *Consumer) Fetch(ctx context.Context) (eventbus.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return eventbus.Message{}, err
		}
		if c.closed.Load() {
			return eventbus.Message{}, eventbus.ErrClosed
		}

		if err := c.maintainLeases(ctx); err != nil {
			return eventbus.Message{}, err
		}

		rec, ok, err := c.nextRecord(ctx)
		if err != nil {
			return eventbus.Message{}, err
		}
		if ok {
			return fromRecord(rec), nil
		}

		t := time.NewTimer(c.config.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return eventbus.Message{}, ctx.Err()
		case <-t.C:
		}
	}
}

// Commit moves the group cursor past msg.
func (c *Consumer) Commit(ctx context.Context, msg eventbus.Message) error {
	if c.closed.Load() {
		return eventbus.ErrClosed
	}
	if _, ok := c.shards[msg.Partition]; !ok {
		return fmt.Errorf("shard %d of %s is not leased by this consumer", msg.Partition, c.topic)
	}

	return c.controller.CommitCursor(ctx, c.topic, c.group, msg.Partition, uint64(msg.Offset)+1)
}

// Rewind drops buffered records and resumes every leased shard at its
// committed cursor.
func (c *Consumer) Rewind(ctx context.Context) error {
	if c.closed.Load() {
		return eventbus.ErrClosed
	}

	for shard, st := range c.shards {
		next, err := c.controller.GetCursor(ctx, c.topic, c.group, shard)
		if err != nil {
			return fmt.Errorf("failed to rewind shard %d: %w", shard, err)
		}
		st.next = next
		st.buffered = nil
	}

	return nil
}

// Close releases every held lease so another member can take over.
func (c *Consumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for shard := range c.shards {
		if err := c.controller.ReleaseLease(ctx, c.topic, c.group, shard, c.owner); err != nil {
			errs = append(errs, fmt.Errorf("failed to release lease on shard %d: %w", shard, err))
		}
	}
	clear(c.shards)

	return errors.Join(errs...)
}

// maintainLeases renews held leases before they expire and tries to claim the
// shards nobody holds.
func (c *Consumer) maintainLeases(ctx context.Context) error {
	now := time.Now()
	ttl := c.config.LeaseTTL

	for shard, st := range c.shards {
		if now.Sub(st.renewed) < ttl/3 {
			continue
		}
		ok, err := c.controller.AcquireLease(ctx, c.topic, c.group, shard, c.owner, ttl)
		if err != nil {
			return fmt.Errorf("failed to renew lease on shard %d: %w", shard, err)
		}
		if !ok {
			c.logger.Warn("shard lease lost", zap.Int("shard", shard))
			delete(c.shards, shard)
			continue
		}
		st.renewed = now
	}

	if len(c.shards) == c.config.Shards || now.Sub(c.lastClaim) < c.config.PollInterval {
		return nil
	}
	c.lastClaim = now

	for shard := range c.config.Shards {
		if _, held := c.shards[shard]; held {
			continue
		}
		ok, err := c.controller.AcquireLease(ctx, c.topic, c.group, shard, c.owner, ttl)
		if err != nil {
			return fmt.Errorf("failed to acquire lease on shard %d: %w", shard, err)
		}
		if !ok {
			continue
		}

		next, err := c.controller.GetCursor(ctx, c.topic, c.group, shard)
		if err != nil {
			_ = c.controller.ReleaseLease(ctx, c.topic, c.group, shard, c.owner)
			return fmt.Errorf("failed to read cursor of shard %d: %w", shard, err)
		}
		c.shards[shard] = &shardState{next: next, renewed: now}
		c.logger.Info("shard lease acquired", zap.Int("shard", shard), zap.Uint64("cursor", next))
	}

	return nil
}

// nextRecord returns the next record of the leased shards, visiting shards
// round-robin.
func (c *Consumer) nextRecord(ctx context.Context) (Record, bool, error) {
	held := make([]int, 0, len(c.shards))
	for shard := range c.shards {
		held = append(held, shard)
	}
	slices.Sort(held)

	for i := range held {
		shard := held[(c.turn+i)%len(held)]
		st := c.shards[shard]

		if len(st.buffered) == 0 {
			records, err := c.controller.LoadRecords(ctx, c.topic, shard, st.next, c.config.BatchSize)
			if err != nil {
				return Record{}, false, err
			}
			st.buffered = contiguous(records, st.next)
		}
		if len(st.buffered) == 0 {
			continue
		}

		rec := st.buffered[0]
		st.buffered = st.buffered[1:]
		st.next = rec.Offset + 1
		c.turn += i + 1

		return rec, true, nil
	}

	return Record{}, false, nil
}

// contiguous returns the leading run of records that starts exactly at from
// without gaps.
func contiguous(records []Record, from uint64) []Record {
	for i, rec := range records {
		if rec.Offset != from+uint64(i) {
			return records[:i]
		}
	}
	return records
}

var _ eventbus.Consumer = (*Consumer)(nil)
