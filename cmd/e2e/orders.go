package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"eventbus/internal/eventbus"
)

type OrderCreatedEvent struct {
	eventbus.IntegrationEvent
	OrderID    string  `json:"orderId"`
	CustomerID string  `json:"customerId"`
	ProductID  string  `json:"productId"`
	Amount     float64 `json:"amount"`
}

type OrderShippedEvent struct {
	eventbus.IntegrationEvent
	OrderID string    `json:"orderId"`
	Carrier string    `json:"carrier"`
	Shipped time.Time `json:"shippedAt"`
}

// progress counts handled events across all handler instances.
type progress struct {
	created atomic.Int64
	shipped atomic.Int64
	target  int64
	done    chan struct{}
	closed  atomic.Bool
}

func newProgress(eventCount int) *progress {
	return &progress{
		target: int64(eventCount),
		done:   make(chan struct{}),
	}
}

func (p *progress) check() {
	if p.created.Load() >= p.target && p.shipped.Load() >= p.target && p.closed.CompareAndSwap(false, true) {
		close(p.done)
	}
}

type OrderCreatedHandler struct {
	eventbus.BaseHandler[*OrderCreatedEvent]
	progress *progress
}

func NewOrderCreatedHandler(logger *zap.Logger, p *progress) *OrderCreatedHandler {
	h := &OrderCreatedHandler{progress: p}
	h.BaseHandler = eventbus.NewBaseHandler[*OrderCreatedEvent](logger.Named("order_created"), h)
	return h
}

func (h *OrderCreatedHandler) ProcessEvent(_ context.Context, e *OrderCreatedEvent) error {
	if e.Amount <= 0 {
		return fmt.Errorf("order %s has non-positive amount %.2f", e.OrderID, e.Amount)
	}
	h.progress.created.Add(1)
	h.progress.check()
	return nil
}

type OrderShippedHandler struct {
	eventbus.BaseHandler[*OrderShippedEvent]
	progress *progress
}

func NewOrderShippedHandler(logger *zap.Logger, p *progress) *OrderShippedHandler {
	h := &OrderShippedHandler{progress: p}
	h.BaseHandler = eventbus.NewBaseHandler[*OrderShippedEvent](logger.Named("order_shipped"), h)
	return h
}

func (h *OrderShippedHandler) ProcessEvent(_ context.Context, _ *OrderShippedEvent) error {
	h.progress.shipped.Add(1)
	h.progress.check()
	return nil
}

func orders(count int) ([]*OrderCreatedEvent, []*OrderShippedEvent) {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	carriers := []string{"ups", "dhl", "fedex"}

	created := make([]*OrderCreatedEvent, 0, count)
	shipped := make([]*OrderShippedEvent, 0, count)
	for i := range count {
		orderID := fmt.Sprintf("ORD-%04d", i+1)
		created = append(created, &OrderCreatedEvent{
			IntegrationEvent: eventbus.NewIntegrationEvent(),
			OrderID:          orderID,
			CustomerID:       customers[rand.Intn(len(customers))],
			ProductID:        products[rand.Intn(len(products))],
			Amount:           10.0 + rand.Float64()*990.0,
		})
		shipped = append(shipped, &OrderShippedEvent{
			IntegrationEvent: eventbus.NewIntegrationEvent(),
			OrderID:          orderID,
			Carrier:          carriers[rand.Intn(len(carriers))],
			Shipped:          time.Now().UTC(),
		})
	}

	return created, shipped
}
