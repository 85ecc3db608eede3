package couchlog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"eventbus/internal/eventbus/tracing"
)

// TracedController wraps a Controller with distributed tracing.
// Layer order: TracedController -> MetricsController -> Store
type TracedController struct {
	controller Controller
	tracer     *tracing.Tracer
}

func NewTracedController(controller Controller, tracer *tracing.Tracer) Controller {
	return &TracedController{
		controller: controller,
		tracer:     tracer,
	}
}

func (c *TracedController) Append(ctx context.Context, topic string, shard int, records []Record) (uint64, error) {
	ctx, span := c.tracer.StartSpan(ctx, "couchlog.append")
	span.SetAttributes(c.tracer.StoreAttributes("append")...)
	span.SetAttributes(
		attribute.String("messaging.destination.name", topic),
		attribute.Int("couchlog.shard", shard),
		attribute.Int("messaging.batch.message_count", len(records)),
	)

	first, err := c.controller.Append(ctx, topic, shard, records)
	if err == nil {
		span.SetAttributes(attribute.Int64("couchlog.first_offset", int64(first)))
	}
	c.tracer.End(ctx, span, err)

	return first, err
}

func (c *TracedController) LoadRecords(ctx context.Context, topic string, shard int, from uint64, limit int) ([]Record, error) {
	ctx, span := c.tracer.StartSpan(ctx, "couchlog.load_records")
	span.SetAttributes(c.tracer.StoreAttributes("load_records")...)
	span.SetAttributes(
		attribute.String("messaging.destination.name", topic),
		attribute.Int("couchlog.shard", shard),
		attribute.Int64("couchlog.from_offset", int64(from)),
		attribute.Int("couchlog.limit", limit),
	)

	records, err := c.controller.LoadRecords(ctx, topic, shard, from, limit)
	span.SetAttributes(attribute.Int("couchlog.loaded", len(records)))
	c.tracer.End(ctx, span, err)

	return records, err
}

func (c *TracedController) GetCursor(ctx context.Context, topic, group string, shard int) (uint64, error) {
	ctx, span := c.tracer.StartSpan(ctx, "couchlog.get_cursor")
	span.SetAttributes(c.tracer.StoreAttributes("get_cursor")...)
	span.SetAttributes(groupAttributes(topic, group, shard)...)

	offset, err := c.controller.GetCursor(ctx, topic, group, shard)
	if err == nil {
		span.SetAttributes(attribute.Int64("couchlog.cursor_offset", int64(offset)))
	}
	c.tracer.End(ctx, span, err)

	return offset, err
}

func (c *TracedController) CommitCursor(ctx context.Context, topic, group string, shard int, next uint64) error {
	ctx, span := c.tracer.StartSpan(ctx, "couchlog.commit_cursor")
	span.SetAttributes(c.tracer.StoreAttributes("commit_cursor")...)
	span.SetAttributes(groupAttributes(topic, group, shard)...)
	span.SetAttributes(attribute.Int64("couchlog.cursor_offset", int64(next)))

	err := c.controller.CommitCursor(ctx, topic, group, shard, next)
	c.tracer.End(ctx, span, err)

	return err
}

func (c *TracedController) AcquireLease(ctx context.Context, topic, group string, shard int, owner string, ttl time.Duration) (bool, error) {
	ctx, span := c.tracer.StartSpan(ctx, "couchlog.acquire_lease")
	span.SetAttributes(c.tracer.StoreAttributes("acquire_lease")...)
	span.SetAttributes(groupAttributes(topic, group, shard)...)
	span.SetAttributes(attribute.String("couchlog.lease_owner", owner))

	ok, err := c.controller.AcquireLease(ctx, topic, group, shard, owner, ttl)
	span.SetAttributes(attribute.Bool("couchlog.lease_acquired", ok))
	c.tracer.End(ctx, span, err)

	return ok, err
}

func (c *TracedController) ReleaseLease(ctx context.Context, topic, group string, shard int, owner string) error {
	ctx, span := c.tracer.StartSpan(ctx, "couchlog.release_lease")
	span.SetAttributes(c.tracer.StoreAttributes("release_lease")...)
	span.SetAttributes(groupAttributes(topic, group, shard)...)
	span.SetAttributes(attribute.String("couchlog.lease_owner", owner))

	err := c.controller.ReleaseLease(ctx, topic, group, shard, owner)
	c.tracer.End(ctx, span, err)

	return err
}

func groupAttributes(topic, group string, shard int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.destination.name", topic),
		attribute.String("messaging.consumer.group.name", group),
		attribute.Int("couchlog.shard", shard),
	}
}
