package logging

import (
	"context"
	"time"
)

// DetachContext returns a context that is not cancelled when parent is.
// Values (trace spans, request ids) are preserved.
//
// Cache writes use it so that a caller abandoning a request does not leave a
// half-finished store operation behind.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout detaches from parent and applies its own deadline.
//
//	storeCtx, cancel := logging.DetachContextWithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	rc.Set(storeCtx, key, value, tier, 0, nil)
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}
