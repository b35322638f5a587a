// Package cache implements the result cache: a bounded key/value store with
// per-tier TTLs and approximate-LRU eviction over a pluggable backend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

// Defaults for Config.
const (
	DefaultMaxEntries = 10000
	DefaultTTL        = time.Hour
)

// DefaultTierTTL returns the per-tier TTLs.
func DefaultTierTTL() map[string]time.Duration {
	return map[string]time.Duration{
		"fast":     time.Hour,
		"hybrid":   6 * time.Hour,
		"thorough": 24 * time.Hour,
	}
}

// Config tunes a ResultCache.
type Config struct {
	MaxEntries int
	TierTTL    map[string]time.Duration
	// DefaultTTL applies to tiers missing from TierTTL.
	DefaultTTL time.Duration
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries: DefaultMaxEntries,
		TierTTL:    DefaultTierTTL(),
		DefaultTTL: DefaultTTL,
	}
}

// Stats is the observability snapshot returned by GetStats.
type Stats struct {
	Backend       string         `json:"backend"`
	TotalEntries  int            `json:"total_entries"`
	MaxEntries    int            `json:"max_entries"`
	ByTier        map[string]int `json:"by_tier"`
	Hits          int64          `json:"hits"`
	Misses        int64          `json:"misses"`
	Evictions     int64          `json:"evictions"`
	BackendErrors int64          `json:"backend_errors"`
	HitRate       float64        `json:"hit_rate"`
	AverageTTL    time.Duration  `json:"average_ttl"`
	Oldest        time.Time      `json:"oldest,omitzero"`
	Newest        time.Time      `json:"newest,omitzero"`
}

// ResultCache fronts a Store with TTL handling, eviction and hit/miss
// accounting. Backend failures are logged and degrade to a miss or no-op.
// It is safe for concurrent use.
type ResultCache struct {
	store Store
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time

	// mu serializes mutations and guards the counters.
	mu            sync.Mutex
	hits          int64
	misses        int64
	evictions     int64
	backendErrors int64
}

// Option configures a ResultCache.
type Option func(*ResultCache)

// WithStore sets the backend. The default is a MemoryStore.
func WithStore(s Store) Option {
	return func(c *ResultCache) { c.store = s }
}

// WithConfig replaces the configuration.
func WithConfig(cfg Config) Option {
	return func(c *ResultCache) { c.cfg = cfg }
}

// WithLogger sets the cache logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *ResultCache) { c.log = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ResultCache) { c.now = now }
}

// New creates a result cache.
func New(opts ...Option) *ResultCache {
	c := &ResultCache{
		cfg: DefaultConfig(),
		log: logging.Component("cache"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.cfg.DefaultTTL <= 0 {
		c.cfg.DefaultTTL = DefaultTTL
	}
	return c
}

// TTLFor returns the TTL applied to tier when Set gets no explicit TTL.
func (c *ResultCache) TTLFor(tier string) time.Duration {
	if ttl, ok := c.cfg.TierTTL[tier]; ok && ttl > 0 {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Backend returns the store name.
func (c *ResultCache) Backend() string { return c.store.Name() }

// degrade records a backend failure. It returns true when err was one.
func (c *ResultCache) degrade(op, key string, err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	c.mu.Lock()
	c.backendErrors++
	c.mu.Unlock()
	c.log.Warn().Err(err).Str("op", op).Str("key", key).Msg("Cache backend failure")
	return true
}

// Set stores value under key. A zero ttl uses the tier default. Values are
// stored as JSON; a value that cannot be encoded is an error. Backend
// failures are logged and swallowed.
func (c *ResultCache) Set(ctx context.Context, key string, value any, tier string, ttl time.Duration, metadata map[string]any) error {
	if key == "" {
		return errors.New("cache: empty key")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode value for %q: %w", key, err)
	}
	if ttl <= 0 {
		ttl = c.TTLFor(tier)
	}

	now := c.now()
	e := &Entry{
		Key:        key,
		Value:      raw,
		Tier:       tier,
		TTL:        ttl,
		CreatedAt:  now,
		AccessedAt: now,
		Metadata:   maps.Clone(metadata),
	}

	c.mu.Lock()
	evicted, err := c.store.Put(ctx, e, c.cfg.MaxEntries)
	c.evictions += int64(evicted)
	c.mu.Unlock()

	if err != nil {
		if c.degrade("set", key, err) {
			return nil
		}
		return err
	}
	if evicted > 0 {
		c.log.Debug().Int("evicted", evicted).Str("tier", tier).Msg("Evicted oldest cache entries")
	}
	return nil
}

// Get returns the raw JSON stored under key. Absent and expired entries are
// misses; expired entries are deleted on the way.
func (c *ResultCache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	e, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.degrade("get", key, err)
		}
		c.miss()
		return nil, false
	}

	now := c.now()
	if e.Expired(now) {
		c.mu.Lock()
		derr := c.deleteIfUnchanged(ctx, e)
		c.misses++
		c.mu.Unlock()
		if derr != nil {
			c.degrade("delete expired", key, derr)
		}
		return nil, false
	}

	if err := c.store.Touch(ctx, key, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			// deleted or evicted since the read
			c.miss()
			return nil, false
		}
		c.degrade("touch", key, err)
	}
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return e.Value, true
}

// deleteIfUnchanged removes seen's key only while the store still holds the
// entry that was read. A Set that replaced it in the meantime survives.
// Callers hold c.mu.
func (c *ResultCache) deleteIfUnchanged(ctx context.Context, seen *Entry) error {
	cur, err := c.store.Get(ctx, seen.Key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !cur.CreatedAt.Equal(seen.CreatedAt) {
		return nil
	}
	_, err = c.store.Delete(ctx, seen.Key)
	return err
}

// GetInto decodes the value under key into dst. A value that no longer
// decodes into dst counts as a miss.
func (c *ResultCache) GetInto(ctx context.Context, key string, dst any) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cached value does not decode")
		return false
	}
	return true
}

func (c *ResultCache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Delete removes key and reports whether it existed.
func (c *ResultCache) Delete(ctx context.Context, key string) bool {
	c.mu.Lock()
	ok, err := c.store.Delete(ctx, key)
	c.mu.Unlock()
	if err != nil {
		c.degrade("delete", key, err)
		return false
	}
	return ok
}

// Clear removes every entry of tier, or everything when tier is empty.
func (c *ResultCache) Clear(ctx context.Context, tier string) int {
	c.mu.Lock()
	n, err := c.store.Clear(ctx, tier)
	c.mu.Unlock()
	if err != nil {
		c.degrade("clear", tier, err)
		return 0
	}
	c.log.Info().Str("tier", tier).Int("removed", n).Msg("Cleared cache")
	return n
}

// CleanupExpired removes every expired entry regardless of access pattern.
func (c *ResultCache) CleanupExpired(ctx context.Context) int {
	c.mu.Lock()
	n, err := c.store.DeleteExpired(ctx, c.now())
	c.mu.Unlock()
	if err != nil {
		c.degrade("cleanup", "", err)
		return 0
	}
	if n > 0 {
		c.log.Debug().Int("removed", n).Msg("Removed expired cache entries")
	}
	return n
}

// Len returns the number of stored entries, or 0 when the backend fails.
func (c *ResultCache) Len(ctx context.Context) int {
	n, err := c.store.Count(ctx)
	if err != nil {
		c.degrade("count", "", err)
		return 0
	}
	return n
}

// GetStats returns a snapshot of entry and hit/miss statistics.
func (c *ResultCache) GetStats(ctx context.Context) Stats {
	st, err := c.store.Stats(ctx)
	if err != nil {
		c.degrade("stats", "", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := Stats{
		Backend:       c.store.Name(),
		TotalEntries:  st.Total,
		MaxEntries:    c.cfg.MaxEntries,
		ByTier:        st.ByTier,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		BackendErrors: c.backendErrors,
		AverageTTL:    st.AverageTTL,
		Oldest:        st.Oldest,
		Newest:        st.Newest,
	}
	if out.ByTier == nil {
		out.ByTier = map[string]int{}
	}
	if total := c.hits + c.misses; total > 0 {
		out.HitRate = float64(c.hits) / float64(total)
	}
	return out
}

// Close releases the backend.
func (c *ResultCache) Close() error {
	return c.store.Close()
}
