package couchlog

import (
	"context"
	"time"

	"eventbus/internal/eventbus/metrics"
)

// MetricsController wraps a Controller with metrics collection
type MetricsController struct {
	controller Controller
	registry   *metrics.Registry
}

func NewMetricsController(controller Controller, registry *metrics.Registry) Controller {
	return &MetricsController{
		controller: controller,
		registry:   registry,
	}
}

func (c *MetricsController) Append(ctx context.Context, topic string, shard int, records []Record) (uint64, error) {
	start := time.Now()

	first, err := c.controller.Append(ctx, topic, shard, records)
	c.registry.RecordStoreOperation("append", time.Since(start), err)

	return first, err
}

func (c *MetricsController) LoadRecords(ctx context.Context, topic string, shard int, from uint64, limit int) ([]Record, error) {
	start := time.Now()

	records, err := c.controller.LoadRecords(ctx, topic, shard, from, limit)
	c.registry.RecordStoreOperation("load_records", time.Since(start), err)

	return records, err
}

func (c *MetricsController) GetCursor(ctx context.Context, topic, group string, shard int) (uint64, error) {
	start := time.Now()

	offset, err := c.controller.GetCursor(ctx, topic, group, shard)
	c.registry.RecordStoreOperation("get_cursor", time.Since(start), err)

	return offset, err
}

func (c *MetricsController) CommitCursor(ctx context.Context, topic, group string, shard int, next uint64) error {
	start := time.Now()

	err := c.controller.CommitCursor(ctx, topic, group, shard, next)
	c.registry.RecordStoreOperation("commit_cursor", time.Since(start), err)

	return err
}

func (c *MetricsController) AcquireLease(ctx context.Context, topic, group string, shard int, owner string, ttl time.Duration) (bool, error) {
	start := time.Now()

	ok, err := c.controller.AcquireLease(ctx, topic, group, shard, owner, ttl)
	c.registry.RecordStoreOperation("acquire_lease", time.Since(start), err)

	switch {
	case err != nil:
		c.registry.RecordLeaseOperation("acquire", "error")
	case ok:
		c.registry.RecordLeaseOperation("acquire", "acquired")
	default:
		c.registry.RecordLeaseOperation("acquire", "held_elsewhere")
	}

	return ok, err
}

func (c *MetricsController) ReleaseLease(ctx context.Context, topic, group string, shard int, owner string) error {
	start := time.Now()

	err := c.controller.ReleaseLease(ctx, topic, group, shard, owner)
	c.registry.RecordStoreOperation("release_lease", time.Since(start), err)

	result := "released"
	if err != nil {
		result = "error"
	}
	c.registry.RecordLeaseOperation("release", result)

	return err
}
