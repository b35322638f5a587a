package cache

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps entries in process memory. Expiry is handled by
// ResultCache, so the underlying go-cache runs without a janitor.
type MemoryStore struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(v.(*Entry)), nil
}

func (m *MemoryStore) Put(_ context.Context, e *Entry, maxEntries int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	if _, exists := m.items.Get(e.Key); !exists && maxEntries > 0 {
		if n := m.items.ItemCount(); n >= maxEntries {
			evicted = m.evictLocked(evictCount(n))
		}
	}
	m.items.Set(e.Key, cloneEntry(e), gocache.NoExpiration)
	return evicted, nil
}

func (m *MemoryStore) evictLocked(n int) int {
	entries := m.snapshotLocked()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AccessedAt.Equal(entries[j].AccessedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].AccessedAt.Before(entries[j].AccessedAt)
	})
	n = min(n, len(entries))
	for _, e := range entries[:n] {
		m.items.Delete(e.Key)
	}
	return n
}

func (m *MemoryStore) snapshotLocked() []*Entry {
	items := m.items.Items()
	out := make([]*Entry, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*Entry))
	}
	return out
}

func (m *MemoryStore) Touch(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items.Get(key)
	if !ok {
		return ErrNotFound
	}
	e := v.(*Entry)
	e.AccessedAt = at
	e.AccessCount++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items.Get(key); !ok {
		return false, nil
	}
	m.items.Delete(key)
	return true, nil
}

func (m *MemoryStore) Clear(_ context.Context, tier string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tier == "" {
		n := m.items.ItemCount()
		m.items.Flush()
		return n, nil
	}
	n := 0
	for _, e := range m.snapshotLocked() {
		if e.Tier == tier {
			m.items.Delete(e.Key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.snapshotLocked() {
		if e.Expired(now) {
			m.items.Delete(e.Key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	return m.items.ItemCount(), nil
}

func (m *MemoryStore) Stats(context.Context) (StoreStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return summarize(m.snapshotLocked()), nil
}

func (m *MemoryStore) Close() error {
	m.items.Flush()
	return nil
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	c.Value = append([]byte(nil), e.Value...)
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}

func summarize(entries []*Entry) StoreStats {
	st := StoreStats{Total: len(entries), ByTier: make(map[string]int)}
	if len(entries) == 0 {
		return st
	}
	var ttl time.Duration
	for _, e := range entries {
		st.ByTier[e.Tier]++
		ttl += e.TTL
		if st.Oldest.IsZero() || e.CreatedAt.Before(st.Oldest) {
			st.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(st.Newest) {
			st.Newest = e.CreatedAt
		}
	}
	st.AverageTTL = ttl / time.Duration(len(entries))
	return st
}
