// Package session tracks per-session query history and measures how much a
// new query continues the topic of the ones before it.
package session

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxHistory is how many past queries are retained per session.
	DefaultMaxHistory = 10

	shardCount = 16
)

// ErrNotFound is returned when reading a session that was never created.
var ErrNotFound = errors.New("session not found")

// Entry is one recorded query.
type Entry struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type history struct {
	entries   []Entry
	createdAt time.Time
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*history
}

// Tracker keeps a bounded history per session id. It is safe for concurrent
// use; sessions are sharded by id so unrelated sessions do not contend.
type Tracker struct {
	shards     [shardCount]*shard
	maxHistory int
	now        func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxHistory bounds how many entries each session keeps.
func WithMaxHistory(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxHistory = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		maxHistory: DefaultMaxHistory,
		now:        time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{sessions: make(map[string]*history)}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return t.shards[h.Sum32()%shardCount]
}

// MaxHistory returns the per-session bound.
func (t *Tracker) MaxHistory() int {
	return t.maxHistory
}

// Create registers a session. Creating an existing session is a no-op.
func (t *Tracker) Create(id string) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = &history{createdAt: t.now()}
	}
}

// AddQuery appends text to the session, creating it if needed, and drops the
// oldest entries beyond the configured bound.
func (t *Tracker) AddQuery(id, text string) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.sessions[id]
	if !ok {
		h = &history{createdAt: t.now()}
		s.sessions[id] = h
	}
	h.entries = append(h.entries, Entry{Text: text, Timestamp: t.now()})
	if over := len(h.entries) - t.maxHistory; over > 0 {
		trimmed := make([]Entry, t.maxHistory)
		copy(trimmed, h.entries[over:])
		h.entries = trimmed
	}
}

// History returns up to the n most recent entries, oldest first.
// n <= 0 returns the whole retained history.
func (t *Tracker) History(id string, n int) ([]Entry, error) {
	s := t.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	entries := h.entries
	if n > 0 && n < len(entries) {
		entries = entries[len(entries)-n:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Texts returns the retained query texts, oldest first.
func (t *Tracker) Texts(id string) ([]string, error) {
	entries, err := t.History(id, 0)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	return texts, nil
}

// Previous returns the most recent entry.
func (t *Tracker) Previous(id string) (Entry, bool) {
	s := t.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sessions[id]
	if !ok || len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Len returns the number of retained entries; 0 for unknown sessions.
func (t *Tracker) Len(id string) int {
	s := t.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.sessions[id]; ok {
		return len(h.entries)
	}
	return 0
}

// Clear empties a session's history but keeps the session.
func (t *Tracker) Clear(id string) error {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	h.entries = nil
	return nil
}

// Sessions lists known session ids in sorted order.
func (t *Tracker) Sessions() []string {
	var ids []string
	for _, s := range t.shards {
		s.mu.RLock()
		for id := range s.sessions {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}
	sort.Strings(ids)
	return ids
}
