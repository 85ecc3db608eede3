package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"eventbus/internal/eventbus"
)

func counterValue(t *testing.T, r *Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}

	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestRecordPublish(t *testing.T) {
	r := NewRegistry()

	r.RecordPublish("OrderCreatedEvent", time.Millisecond, nil)
	r.RecordPublish("OrderCreatedEvent", time.Millisecond, nil)
	r.RecordPublish("OrderCreatedEvent", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, counterValue(t, r, "eventbus_publish_total",
		map[string]string{"topic": "OrderCreatedEvent", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, r, "eventbus_publish_total",
		map[string]string{"topic": "OrderCreatedEvent", "status": "error"}))
}

func TestRecordDeliveryAndLoops(t *testing.T) {
	r := NewRegistry()

	r.RecordDelivery("OrderCreatedEvent", "OrderCreatedEvent-group", eventbus.OutcomeCommitted, time.Millisecond)
	r.RecordDelivery("OrderCreatedEvent", "OrderCreatedEvent-group", eventbus.OutcomeFailed, time.Millisecond)
	r.RecordFetchError("OrderCreatedEvent", "OrderCreatedEvent-group")

	assert.Equal(t, 1.0, counterValue(t, r, "eventbus_delivery_total",
		map[string]string{"outcome": "committed"}))
	assert.Equal(t, 1.0, counterValue(t, r, "eventbus_delivery_total",
		map[string]string{"outcome": "failed"}))
	assert.Equal(t, 1.0, counterValue(t, r, "eventbus_fetch_error_total", nil))

	r.LoopStarted("OrderCreatedEvent", "OrderCreatedHandler")
	r.LoopStarted("OrderCreatedEvent", "OrderCreatedHandler")
	r.LoopStopped("OrderCreatedEvent", "OrderCreatedHandler")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.activeLoops.WithLabelValues("OrderCreatedEvent", "OrderCreatedHandler")))

	r.SetRegisteredEventTypes(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(r.registeredEventTypes))
}

func TestServerEndpoints(t *testing.T) {
	r := NewRegistry()
	r.RecordPublish("OrderCreatedEvent", time.Millisecond, nil)
	s := NewServer(ServerConfig{Port: 0, Timeout: time.Second}, r, zaptest.NewLogger(t))

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "eventbus_publish_total")
}

func TestRecordStoreAndLeaseOperations(t *testing.T) {
	r := NewRegistry()

	r.RecordStoreOperation("append", time.Millisecond, nil)
	r.RecordStoreOperation("append", time.Millisecond, errors.New("timeout"))
	r.RecordLeaseOperation("acquire", "acquired")
	r.RecordLeaseOperation("acquire", "held_elsewhere")
	r.RecordLeaseOperation("acquire", "held_elsewhere")

	assert.Equal(t, 1.0, counterValue(t, r, "eventbus_store_operation_total",
		map[string]string{"operation": "append", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, r, "eventbus_store_operation_total",
		map[string]string{"operation": "append", "status": "error"}))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.leaseOperationTotal.WithLabelValues("acquire", "held_elsewhere")))
}
