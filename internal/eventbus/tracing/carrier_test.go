package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"eventbus/internal/eventbus"
)

func TestHeaderCarrier(t *testing.T) {
	var headers []eventbus.Header
	c := NewHeaderCarrier(&headers)

	c.Set("traceparent", "a")
	c.Set("baggage", "b")
	c.Set("traceparent", "c")

	assert.Equal(t, "c", c.Get("traceparent"))
	assert.Equal(t, "b", c.Get("baggage"))
	assert.Empty(t, c.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, c.Keys())
	assert.Len(t, headers, 2)
}

func TestTraceContextRoundTripThroughHeaders(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tracer := New(tp.Tracer("test"))

	ctx, span := tracer.StartSpan(context.Background(), "publish")
	defer span.End()

	prop := propagation.TraceContext{}
	var msg eventbus.Message
	prop.Inject(ctx, NewHeaderCarrier(&msg.Headers))
	require.NotEmpty(t, msg.Headers)

	got := trace.SpanContextFromContext(prop.Extract(context.Background(), NewHeaderCarrier(&msg.Headers)))
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), got.SpanID())
}

func TestErrorAttributes(t *testing.T) {
	tracer := Global("test")

	attrs := tracer.ErrorAttributes(nil)
	require.Len(t, attrs, 1)
	assert.False(t, attrs[0].Value.AsBool())

	attrs = tracer.ErrorAttributes(eventbus.ErrNilEvent)
	require.Len(t, attrs, 3)
	assert.True(t, attrs[0].Value.AsBool())
	assert.Equal(t, eventbus.ErrNilEvent.Error(), attrs[2].Value.AsString())
}
