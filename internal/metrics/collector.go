package metrics

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

// Collector aggregates the current session in memory and, when a store is
// set, persists every request.
type Collector struct {
	store     *Store
	log       zerolog.Logger
	now       func() time.Time
	maxRecent int

	mu      sync.RWMutex
	session SessionStats
	recent  []RequestMetric
}

// SessionStats holds current session metrics.
type SessionStats struct {
	StartTime    time.Time
	Requests     int
	Successes    int
	Failures     int
	CacheHits    int
	Fallbacks    int
	TotalLatency time.Duration
	ByMode       map[string]int
	LastRequest  time.Time
}

// SuccessRate is in [0,1]. An empty session counts as fully successful.
func (s SessionStats) SuccessRate() float64 {
	if s.Requests == 0 {
		return 1
	}
	return float64(s.Successes) / float64(s.Requests)
}

// CacheHitRate is in [0,1].
func (s SessionStats) CacheHitRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.Requests)
}

// AverageLatency is zero for an empty session.
func (s SessionStats) AverageLatency() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Requests)
}

// Option configures a Collector.
type Option func(*Collector)

// WithStore persists every recorded request.
func WithStore(s *Store) Option {
	return func(c *Collector) { c.store = s }
}

// WithLogger sets the collector logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Collector) { c.log = l }
}

// WithMaxRecent bounds the in-memory recent request list.
func WithMaxRecent(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxRecent = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a metrics collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		log:       logging.Component("metrics"),
		now:       time.Now,
		maxRecent: 50,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.session = SessionStats{StartTime: c.now(), ByMode: make(map[string]int)}
	return c
}

// Record adds a request to the session and the store. Store failures are
// logged, not returned.
func (c *Collector) Record(ctx context.Context, m *RequestMetric) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.now()
	}

	c.mu.Lock()
	s := &c.session
	s.Requests++
	if m.Success {
		s.Successes++
	} else {
		s.Failures++
	}
	if m.CacheHit {
		s.CacheHits++
	}
	if m.Fallback {
		s.Fallbacks++
	}
	s.TotalLatency += m.Latency
	s.ByMode[m.Mode]++
	s.LastRequest = m.CreatedAt

	c.recent = append(c.recent, *m)
	if len(c.recent) > c.maxRecent {
		c.recent = c.recent[len(c.recent)-c.maxRecent:]
	}
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Record(ctx, m); err != nil {
		c.log.Warn().Err(err).Str("mode", m.Mode).Msg("Failed to persist request metric")
	}
}

// Session returns a copy of the session stats.
func (c *Collector) Session() SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.session
	s.ByMode = maps.Clone(c.session.ByMode)
	return s
}

// Recent returns up to n of the most recent requests, oldest first.
func (c *Collector) Recent(n int) []RequestMetric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n = min(max(n, 0), len(c.recent))
	out := make([]RequestMetric, n)
	copy(out, c.recent[len(c.recent)-n:])
	return out
}

// Store returns the backing store, or nil.
func (c *Collector) Store() *Store { return c.store }
