package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventbus/internal/eventbus"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Publish metrics
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec

	// Delivery metrics
	deliveryTotal    *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	fetchErrorTotal  *prometheus.CounterVec
	activeLoops      *prometheus.GaugeVec

	// Registration metrics
	registeredEventTypes prometheus.Gauge

	// Log store metrics
	storeOperationTotal    *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	leaseOperationTotal    *prometheus.CounterVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_publish_total",
				Help: "Total number of publish operations",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventbus_publish_duration_seconds",
				Help:    "Time spent until the broker acknowledged a publish",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),

		deliveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_delivery_total",
				Help: "Total number of message deliveries by outcome",
			},
			[]string{"topic", "group", "outcome"},
		),

		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventbus_delivery_duration_seconds",
				Help:    "Time spent decoding, handling and committing a message",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"topic", "group"},
		),

		fetchErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_fetch_error_total",
				Help: "Total number of failed broker fetches",
			},
			[]string{"topic", "group"},
		),

		activeLoops: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventbus_consumer_loops",
				Help: "Current number of running consumer loops",
			},
			[]string{"topic", "handler"},
		),

		registeredEventTypes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventbus_registered_event_types",
				Help: "Number of event types registered with the processor",
			},
		),

		storeOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_store_operation_total",
				Help: "Total number of log store operations",
			},
			[]string{"operation", "status"}, // operation: append, load_records, commit_cursor, etc.
		),

		storeOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventbus_store_operation_duration_seconds",
				Help:    "Time spent on log store operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),

		leaseOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventbus_lease_operation_total",
				Help: "Total number of shard lease operations",
			},
			[]string{"operation", "result"}, // result: acquired, held_elsewhere, released, error
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventbus_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "eventbus_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.deliveryTotal,
		r.deliveryDuration,
		r.fetchErrorTotal,
		r.activeLoops,
		r.registeredEventTypes,
		r.storeOperationTotal,
		r.storeOperationDuration,
		r.leaseOperationTotal,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordPublish records a publish operation
func (r *Registry) RecordPublish(topic string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.publishTotal.WithLabelValues(topic, status).Inc()
	r.publishDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordDelivery records the outcome of one message delivery
func (r *Registry) RecordDelivery(topic, group string, outcome eventbus.Outcome, duration time.Duration) {
	r.deliveryTotal.WithLabelValues(topic, group, outcome.String()).Inc()
	r.deliveryDuration.WithLabelValues(topic, group).Observe(duration.Seconds())
}

// RecordFetchError records a failed broker fetch
func (r *Registry) RecordFetchError(topic, group string) {
	r.fetchErrorTotal.WithLabelValues(topic, group).Inc()
}

// LoopStarted increments the running loop gauge
func (r *Registry) LoopStarted(topic, handler string) {
	r.activeLoops.WithLabelValues(topic, handler).Inc()
}

// LoopStopped decrements the running loop gauge
func (r *Registry) LoopStopped(topic, handler string) {
	r.activeLoops.WithLabelValues(topic, handler).Dec()
}

// SetRegisteredEventTypes sets the number of event types known to the processor
func (r *Registry) SetRegisteredEventTypes(n int) {
	r.registeredEventTypes.Set(float64(n))
}

// RecordStoreOperation records a log store operation
func (r *Registry) RecordStoreOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.storeOperationTotal.WithLabelValues(operation, status).Inc()
	r.storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLeaseOperation records the result of a lease acquire or release
func (r *Registry) RecordLeaseOperation(operation, result string) {
	r.leaseOperationTotal.WithLabelValues(operation, result).Inc()
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
