package llm

import (
	"context"
	"sync"
	"time"
)

// Limits bounds the request rate against one backend.
type Limits struct {
	// RequestsPerMinute is the sustained rate. Zero disables rate limiting.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`

	// BurstSize allows temporary bursts above the rate (default: 10s worth).
	BurstSize int `mapstructure:"burst_size" yaml:"burst_size" json:"burst_size"`

	// ConcurrentRequests limits parallel calls. Zero means unlimited.
	ConcurrentRequests int `mapstructure:"concurrent_requests" yaml:"concurrent_requests" json:"concurrent_requests"`
}

// DefaultLimits returns limits for a local server, where inference is
// effectively single-threaded and overload only adds queueing.
func DefaultLimits() Limits {
	return Limits{
		RequestsPerMinute:  120,
		BurstSize:          5,
		ConcurrentRequests: 2,
	}
}

// LimitMetrics tracks usage of a LimitedGenerator.
type LimitMetrics struct {
	TotalRequests  int64         `json:"total_requests"`
	FailedRequests int64         `json:"failed_requests"`
	CancelledWaits int64         `json:"cancelled_waits"`
	TotalTokens    int64         `json:"total_tokens"`
	TotalWait      time.Duration `json:"total_wait"`
	LastRequestAt  time.Time     `json:"last_request_at"`
}

// LimitedGenerator wraps a Generator with a token bucket and a concurrency
// cap. Callers block until a slot is free or their context ends.
type LimitedGenerator struct {
	next   Generator
	bucket *tokenBucket

	mu      sync.Mutex
	metrics LimitMetrics
}

// NewLimitedGenerator wraps next with limits.
func NewLimitedGenerator(next Generator, limits Limits) *LimitedGenerator {
	return &LimitedGenerator{next: next, bucket: newTokenBucket(limits, time.Now)}
}

// Generate waits for a slot and forwards the request.
func (l *LimitedGenerator) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	waitStart := time.Now()
	if err := l.bucket.acquire(ctx); err != nil {
		l.mu.Lock()
		l.metrics.CancelledWaits++
		l.mu.Unlock()
		return nil, err
	}
	defer l.bucket.release()
	waited := time.Since(waitStart)

	res, err := l.next.Generate(ctx, req)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.TotalRequests++
	l.metrics.TotalWait += waited
	l.metrics.LastRequestAt = time.Now()
	if err != nil {
		l.metrics.FailedRequests++
		return nil, err
	}
	if res != nil {
		if n, ok := res.Metadata["completion_tokens"].(int); ok {
			l.metrics.TotalTokens += int64(n)
		}
	}
	return res, nil
}

// Metrics returns a snapshot of the usage counters.
func (l *LimitedGenerator) Metrics() LimitMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics
}

// Unwrap returns the wrapped generator.
func (l *LimitedGenerator) Unwrap() Generator {
	return l.next
}

// tokenBucket implements the token bucket algorithm with a concurrency cap.
type tokenBucket struct {
	mu            sync.Mutex
	now           func() time.Time
	tokens        float64
	maxTokens     float64
	refillRate    float64 // tokens per second; zero disables the rate check
	lastRefill    time.Time
	active        int
	maxConcurrent int
	waiters       []chan struct{}
}

func newTokenBucket(limits Limits, now func() time.Time) *tokenBucket {
	maxTokens := float64(limits.BurstSize)
	if maxTokens < 1 {
		maxTokens = max(1, float64(limits.RequestsPerMinute)/6.0)
	}
	return &tokenBucket{
		now:           now,
		tokens:        maxTokens,
		maxTokens:     maxTokens,
		refillRate:    float64(limits.RequestsPerMinute) / 60.0,
		lastRefill:    now(),
		maxConcurrent: limits.ConcurrentRequests,
	}
}

// acquire blocks until both a concurrency slot and a token are available.
func (tb *tokenBucket) acquire(ctx context.Context) error {
	if err := tb.acquireSlot(ctx); err != nil {
		return err
	}
	if err := tb.takeToken(ctx); err != nil {
		tb.release()
		return err
	}
	return nil
}

func (tb *tokenBucket) acquireSlot(ctx context.Context) error {
	tb.mu.Lock()
	if tb.maxConcurrent <= 0 || tb.active < tb.maxConcurrent {
		tb.active++
		tb.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	tb.waiters = append(tb.waiters, waiter)
	tb.mu.Unlock()

	select {
	case <-waiter:
		// release handed its slot to us
		return nil
	case <-ctx.Done():
		tb.mu.Lock()
		defer tb.mu.Unlock()
		for i, w := range tb.waiters {
			if w == waiter {
				tb.waiters = append(tb.waiters[:i], tb.waiters[i+1:]...)
				return ctx.Err()
			}
		}
		// Lost the race: the slot was already handed over. Pass it on.
		tb.handOff()
		return ctx.Err()
	}
}

func (tb *tokenBucket) takeToken(ctx context.Context) error {
	for {
		tb.mu.Lock()
		if tb.refillRate <= 0 {
			tb.mu.Unlock()
			return nil
		}
		tb.refill()
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - tb.tokens) / tb.refillRate * float64(time.Second))
		tb.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// release returns a concurrency slot.
func (tb *tokenBucket) release() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.handOff()
}

// handOff gives the caller's slot to the first waiter, or frees it.
// Must be called with the lock held.
func (tb *tokenBucket) handOff() {
	if len(tb.waiters) > 0 {
		waiter := tb.waiters[0]
		tb.waiters = tb.waiters[1:]
		close(waiter)
		return
	}
	tb.active--
}

// refill adds tokens based on elapsed time (must be called with lock held).
func (tb *tokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now
}
