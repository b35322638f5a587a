package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_AddQueryCreatesSession(t *testing.T) {
	tr := NewTracker()

	_, err := tr.History("s1", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	tr.AddQuery("s1", "hello")
	entries, err := tr.History("s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Text)
}

func TestTracker_TruncatesOldest(t *testing.T) {
	tr := NewTracker(WithMaxHistory(3))
	for i := 0; i < 5; i++ {
		tr.AddQuery("s", fmt.Sprintf("q%d", i))
	}

	texts, err := tr.Texts("s")
	require.NoError(t, err)
	assert.Equal(t, []string{"q2", "q3", "q4"}, texts)
	assert.Equal(t, 3, tr.Len("s"))
}

func TestTracker_HistoryLastN(t *testing.T) {
	tr := NewTracker()
	for _, q := range []string{"a", "b", "c", "d"} {
		tr.AddQuery("s", q)
	}

	entries, err := tr.History("s", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].Text)
	assert.Equal(t, "d", entries[1].Text)

	prev, ok := tr.Previous("s")
	require.True(t, ok)
	assert.Equal(t, "d", prev.Text)
}

func TestTracker_HistoryIsACopy(t *testing.T) {
	tr := NewTracker()
	tr.AddQuery("s", "original")

	entries, _ := tr.History("s", 0)
	entries[0].Text = "mutated"

	again, _ := tr.History("s", 0)
	assert.Equal(t, "original", again[0].Text)
}

func TestTracker_CreateClearAndSessions(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := NewTracker(WithClock(func() time.Time { return fixed }))

	tr.Create("b")
	tr.Create("a")
	tr.Create("a")
	assert.Equal(t, []string{"a", "b"}, tr.Sessions())

	_, ok := tr.Previous("a")
	assert.False(t, ok)

	tr.AddQuery("a", "x")
	prev, _ := tr.Previous("a")
	assert.Equal(t, fixed, prev.Timestamp)

	require.NoError(t, tr.Clear("a"))
	assert.Equal(t, 0, tr.Len("a"))
	assert.ErrorIs(t, tr.Clear("missing"), ErrNotFound)
}

func TestTracker_ConcurrentAppendsStayBounded(t *testing.T) {
	tr := NewTracker(WithMaxHistory(10))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.AddQuery(fmt.Sprintf("s%d", g%3), "query")
				tr.Len(fmt.Sprintf("s%d", g%3))
			}
		}(g)
	}
	wg.Wait()

	for _, id := range tr.Sessions() {
		assert.LessOrEqual(t, tr.Len(id), 10)
	}
}
