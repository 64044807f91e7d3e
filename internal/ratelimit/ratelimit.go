// Package ratelimit provides a per-caller, per-action request throttle.
//
// The limiter is deliberately approximate: state lives in process memory,
// resets on restart and is not shared across instances. It is a
// defense-in-depth throttle, not a billing-grade quota.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/raineandseaweb/raineandsea-sub002/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Action classifies a request for quota purposes.
type Action string

const (
	ActionCheckout Action = "checkout"
	ActionAPI      Action = "api"
	ActionAuth     Action = "auth"
)

// Quota is the allowed request count per rolling window for one action.
type Quota struct {
	Max    int
	Window time.Duration
}

// DefaultQuotas are the storefront's configured limits.
func DefaultQuotas() map[Action]Quota {
	return map[Action]Quota{
		ActionCheckout: {Max: 5, Window: time.Hour},
		ActionAPI:      {Max: 100, Window: time.Hour},
		ActionAuth:     {Max: 10, Window: time.Hour},
	}
}

// Result reports a single quota check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type bucketKey struct {
	action Action
	caller string
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter owns the counter state. Construct one at process start and inject
// it into handlers; there is no package-level instance.
type Limiter struct {
	mu      sync.Mutex
	quotas  map[Action]Quota
	buckets map[bucketKey]*bucket
	now     func() time.Time
}

// New creates a Limiter with the given quotas. Nil quotas means DefaultQuotas.
func New(quotas map[Action]Quota) *Limiter {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	return &Limiter{
		quotas:  quotas,
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
}

// Check counts one request from caller against the action's quota. The call
// is denied once the window's count exceeds the quota; ResetAt tells the
// caller when the window reopens.
func (l *Limiter) Check(action Action, caller string) Result {
	q, ok := l.quotas[action]
	if !ok {
		return Result{Allowed: true}
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	k := bucketKey{action: action, caller: caller}
	b, ok := l.buckets[k]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(q.Window)}
		l.buckets[k] = b
	}

	b.count++
	if b.count > q.Max {
		metrics.RateLimitDenied.WithLabelValues(string(action)).Inc()
		log.WithFields(log.Fields{
			"action":   string(action),
			"caller":   caller,
			"reset_at": b.resetAt.Format(time.RFC3339),
		}).Warn("Rate limit exceeded")
		return Result{Allowed: false, Remaining: 0, ResetAt: b.resetAt}
	}

	return Result{Allowed: true, Remaining: q.Max - b.count, ResetAt: b.resetAt}
}

// Purge drops expired windows. Called periodically by the janitor.
func (l *Limiter) Purge() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	for k, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, k)
			purged++
		}
	}
	return purged
}

// StartJanitor purges expired windows on an interval until ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Purge(); n > 0 {
					log.WithField("purged", n).Debug("Rate limiter purged expired windows")
				}
			}
		}
	}()
}
