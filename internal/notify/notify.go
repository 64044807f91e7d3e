// Package notify dispatches post-commit side effects: order confirmation
// email and per-line analytics tracking. Everything here is fire-and-forget;
// a failure is logged and counted, never surfaced to the checkout caller and
// never used to roll back an order.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/raineandseaweb/raineandsea-sub002/internal/metrics"
	"github.com/raineandseaweb/raineandsea-sub002/internal/models"
	"github.com/raineandseaweb/raineandsea-sub002/internal/patterns"
)

// Event kinds.
const (
	KindOrderConfirmation = "order_confirmation"
	KindAnalyticsItem     = "analytics_item"
)

// Event is one queued side effect.
type Event struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// OrderConfirmation is the email payload.
type OrderConfirmation struct {
	OrderID     string             `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	Email       string             `json:"email"`
	Total       string             `json:"total"`
	Currency    string             `json:"currency"`
	Items       []models.OrderItem `json:"items"`
}

// AnalyticsItem is one purchased-line tracking payload.
type AnalyticsItem struct {
	OrderID    string `json:"order_id"`
	ProductID  string `json:"product_id"`
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	UnitAmount string `json:"unit_amount"`
}

// Dispatcher owns a bounded queue and a worker pool. Outbound calls go
// through a bulkhead (bounded concurrency) and a circuit breaker so a dead
// collaborator sheds load instead of stacking up requests.
type Dispatcher struct {
	queue        chan Event
	client       *resty.Client
	breaker      *patterns.CircuitBreakerWrapper
	bulkhead     *patterns.Bulkhead
	emailURL     string
	analyticsURL string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Empty collaborator URLs switch that
// event kind to log-only mode, which local development uses.
func NewDispatcher(emailURL, analyticsURL string, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 2
	}
	d := &Dispatcher{
		queue: make(chan Event, queueSize),
		client: resty.New().
			SetTimeout(patterns.DispatchTimeout).
			SetRetryCount(0),
		breaker:      patterns.NewCircuitBreaker("Notifier", "checkout-service"),
		bulkhead:     patterns.NewBulkhead(workers*2, "notify", "checkout-service"),
		emailURL:     emailURL,
		analyticsURL: analyticsURL,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// OrderCreated implements the checkout publisher: one confirmation email
// plus one analytics event per line item.
func (d *Dispatcher) OrderCreated(order models.Order, items []models.OrderItem, email string) {
	d.enqueue(Event{Kind: KindOrderConfirmation, Payload: OrderConfirmation{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       email,
		Total:       order.Total.String(),
		Currency:    order.Currency,
		Items:       items,
	}})
	for _, item := range items {
		d.enqueue(Event{Kind: KindAnalyticsItem, Payload: AnalyticsItem{
			OrderID:    order.ID,
			ProductID:  item.ProductID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitAmount: item.UnitAmount.String(),
		}})
	}
}

// enqueue never blocks the commit path: a full queue drops the event.
func (d *Dispatcher) enqueue(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
		metrics.NotifyQueueDepth.Set(float64(len(d.queue)))
	default:
		metrics.NotificationsTotal.WithLabelValues(ev.Kind, "dropped").Inc()
		log.WithField("kind", ev.Kind).Warn("Notification queue full, event dropped")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for ev := range d.queue {
		metrics.NotifyQueueDepth.Set(float64(len(d.queue)))
		d.dispatch(ev)
	}
}

func (d *Dispatcher) dispatch(ev Event) {
	url := d.emailURL
	if ev.Kind == KindAnalyticsItem {
		url = d.analyticsURL
	}
	if url == "" {
		log.WithFields(log.Fields{"kind": ev.Kind}).Info("Notification (log-only mode)")
		metrics.NotificationsTotal.WithLabelValues(ev.Kind, "logged").Inc()
		return
	}

	err := d.bulkhead.Execute(func() error {
		_, cbErr := d.breaker.Execute(func() (interface{}, error) {
			resp, httpErr := d.client.R().
				SetHeader("Content-Type", "application/json").
				SetBody(ev).
				Post(url)
			if httpErr != nil {
				return nil, fmt.Errorf("HTTP error: %w", httpErr)
			}
			if resp.StatusCode() >= 300 {
				return nil, fmt.Errorf("collaborator returned status %d", resp.StatusCode())
			}
			return nil, nil
		})
		return patterns.FormatError("Notifier", cbErr)
	})

	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(ev.Kind, "failed").Inc()
		log.WithFields(log.Fields{
			"kind":  ev.Kind,
			"error": err.Error(),
		}).Warn("Notification dispatch failed")
		return
	}
	metrics.NotificationsTotal.WithLabelValues(ev.Kind, "sent").Inc()
}

// Drain waits for the queue to empty or ctx to expire, reporting whether it
// fully drained. Shutdown uses it to flush confirmations before exit.
func (d *Dispatcher) Drain(ctx context.Context) bool {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		if len(d.queue) == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return len(d.queue) == 0
		case <-t.C:
		}
	}
}

// Stop closes intake and waits for in-flight dispatches to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
