package patterns

import (
	"fmt"
	"time"

	"github.com/raineandseaweb/raineandsea-sub002/internal/metrics"
)

// Bulkhead caps concurrent access to a resource. The notifier uses one so a
// slow email collaborator cannot pile up unbounded in-flight requests.
type Bulkhead struct {
	semaphore   chan struct{}
	name        string
	service     string
	acquireWait time.Duration
}

// NewBulkhead creates a new bulkhead with specified capacity
func NewBulkhead(size int, name, service string) *Bulkhead {
	return &Bulkhead{
		semaphore:   make(chan struct{}, size),
		name:        name,
		service:     service,
		acquireWait: 2 * time.Second,
	}
}

// Execute runs a function within the bulkhead's resource limits
func (b *Bulkhead) Execute(fn func() error) error {
	select {
	case b.semaphore <- struct{}{}:
		metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Inc()

		defer func() {
			<-b.semaphore
			metrics.BulkheadActiveRequests.WithLabelValues(b.service, b.name).Dec()
		}()

		return fn()

	case <-time.After(b.acquireWait):
		metrics.BulkheadRejectedRequests.WithLabelValues(b.service, b.name).Inc()
		return fmt.Errorf("bulkhead %s: timeout acquiring resource", b.name)
	}
}
