package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached result.
type Entry struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Tier        string          `json:"tier"`
	TTL         time.Duration   `json:"ttl"`
	CreatedAt   time.Time       `json:"created_at"`
	AccessedAt  time.Time       `json:"accessed_at"`
	AccessCount int64           `json:"access_count"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// ExpiresAt returns CreatedAt + TTL.
func (e *Entry) ExpiresAt() time.Time { return e.CreatedAt.Add(e.TTL) }

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool { return !now.Before(e.ExpiresAt()) }

// StoreStats is the storage-side part of Stats.
type StoreStats struct {
	Total      int
	ByTier     map[string]int
	AverageTTL time.Duration
	Oldest     time.Time
	Newest     time.Time
}

// Store is a cache backend. Each mutating call is atomic: readers never
// observe a half-written entry.
type Store interface {
	// Name identifies the backend in logs and stats.
	Name() string
	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)
	// Put inserts or replaces e. When e.Key is new and the store already
	// holds maxEntries or more, the evictCount oldest-accessed entries are
	// removed first in the same transaction. It returns how many were
	// evicted. maxEntries <= 0 disables eviction.
	Put(ctx context.Context, e *Entry, maxEntries int) (int, error)
	// Touch records an access at the given time.
	Touch(ctx context.Context, key string, at time.Time) error
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Clear removes every entry of tier, or every entry when tier is empty.
	Clear(ctx context.Context, tier string) (int, error)
	// DeleteExpired removes entries whose CreatedAt+TTL is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)
	// Stats summarizes the stored entries.
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}

// evictCount is the approximate-LRU batch size: a tenth of the entries,
// at least one.
func evictCount(count int) int {
	return max(1, count/10)
}
