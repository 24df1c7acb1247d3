package utils

import (
	"context"
	"time"
)

func ContextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// ContextWithTimeoutFrom keeps the caller's cancellation and adds a deadline.
func ContextWithTimeoutFrom(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
