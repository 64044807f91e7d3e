package patterns

import (
	"context"
	"time"
)

// WithDeadline bounds a blocking operation so a stalled dependency cannot
// hold resources (inventory row locks in particular) indefinitely.
func WithDeadline(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}

// DefaultCommitTimeout bounds the order commit transaction.
const DefaultCommitTimeout = 10 * time.Second

// DispatchTimeout bounds one outbound notification/analytics call.
const DispatchTimeout = 5 * time.Second
