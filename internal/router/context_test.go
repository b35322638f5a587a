package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RichLycus/ProjekUtama-sub000/internal/session"
)

func TestContextScorer_ReferenceOnly(t *testing.T) {
	s := NewContextScorer(DefaultContextConfig())

	res := s.Score("tell me more about it", "", nil)
	assert.True(t, res.HasReference)
	assert.Equal(t, 1, res.ReferenceCount)
	assert.InDelta(t, 0.175, res.Score, 1e-9)
	assert.Zero(t, res.TopicContinuity)
	assert.Contains(t, res.Reasoning, "low")
}

func TestContextScorer_WithSession(t *testing.T) {
	s := NewContextScorer(DefaultContextConfig())
	tracker := session.NewTracker()
	for i := 0; i < 6; i++ {
		tracker.AddQuery("s1", "kubernetes deployment strategy")
	}

	res := s.Score("kubernetes deployment rollback", "s1", tracker)
	assert.Equal(t, 6, res.SessionLength)
	assert.InDelta(t, 0.5, res.TopicContinuity, 1e-9)
	// 0.5×0.4 topic + 0.2 capped session bonus
	assert.InDelta(t, 0.4, res.Score, 1e-9)
	assert.False(t, res.HasReference)
	assert.Contains(t, res.Reasoning, "moderate")

	// scoring never mutates the tracker
	assert.Equal(t, 6, tracker.Len("s1"))
}

func TestContextScorer_UnknownSession(t *testing.T) {
	s := NewContextScorer(DefaultContextConfig())

	res := s.Score("kubernetes deployment", "missing", session.NewTracker())
	assert.Zero(t, res.SessionLength)
	assert.Zero(t, res.Score)
}

func TestContextScorer_Bounds(t *testing.T) {
	s := NewContextScorer(DefaultContextConfig())
	tracker := session.NewTracker()
	for i := 0; i < 10; i++ {
		tracker.AddQuery("s", "it this that these those they them above previous")
	}

	res := s.Score("it this that these those they them above previous", "s", tracker)
	assert.LessOrEqual(t, res.Score, 1.0)
	assert.GreaterOrEqual(t, res.Score, 0.0)
	assert.Contains(t, res.Reasoning, "high")
}
