package router

import (
	"fmt"
	"math"
	"strings"

	"github.com/RichLycus/ProjekUtama-sub000/internal/session"
)

// ContextConfig holds the tunable parameters of the ContextScorer.
type ContextConfig struct {
	ReferenceWords  []string `mapstructure:"reference_words" yaml:"reference_words"`
	ReferenceStep   float64  `mapstructure:"reference_step" yaml:"reference_step"`
	ReferenceWeight float64  `mapstructure:"reference_weight" yaml:"reference_weight"`
	TopicWeight     float64  `mapstructure:"topic_weight" yaml:"topic_weight"`
	SessionStep     float64  `mapstructure:"session_step" yaml:"session_step"`
	SessionCap      float64  `mapstructure:"session_cap" yaml:"session_cap"`
	Decay           float64  `mapstructure:"decay" yaml:"decay"`
	LowBucket       float64  `mapstructure:"low_bucket" yaml:"low_bucket"`
	HighBucket      float64  `mapstructure:"high_bucket" yaml:"high_bucket"`
}

// DefaultContextConfig returns the default scorer parameters.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		ReferenceWords: []string{
			"it", "this", "that", "these", "those", "they", "them", "above", "previous",
			"earlier", "same", "again", "also", "continue", "as mentioned",
			"它", "这个", "那个", "这些", "那些", "上面", "刚才", "之前", "继续", "还有",
		},
		ReferenceStep:   0.35,
		ReferenceWeight: 0.5,
		TopicWeight:     0.4,
		SessionStep:     0.05,
		SessionCap:      0.2,
		Decay:           session.DefaultDecay,
		LowBucket:       0.3,
		HighBucket:      0.6,
	}
}

// ContextScorer measures how much a request depends on earlier conversation.
type ContextScorer struct {
	cfg        ContextConfig
	references []string
}

// NewContextScorer creates a scorer.
func NewContextScorer(cfg ContextConfig) *ContextScorer {
	return &ContextScorer{cfg: cfg, references: foldAll(cfg.ReferenceWords)}
}

// Score fuses reference words, topic continuity and session length. A nil
// tracker or empty session id scores the text alone. The tracker is only read.
func (s *ContextScorer) Score(text, sessionID string, tracker *session.Tracker) *ContextResult {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	tokens := tokenSet(trimmed)

	refs := 0
	var signals []string
	for _, w := range s.references {
		if matches(w, lower, tokens) {
			refs++
		}
	}
	refScore := math.Min(s.cfg.ReferenceStep*float64(refs), 1)
	if refs > 0 {
		signals = append(signals, fmt.Sprintf("%d reference words", refs))
	}

	var topic float64
	var length int
	if tracker != nil && sessionID != "" && trimmed != "" {
		if history, err := tracker.Texts(sessionID); err == nil {
			length = len(history)
			topic = session.Continuity(trimmed, history, s.cfg.Decay)
		}
	}
	if topic > 0 {
		signals = append(signals, fmt.Sprintf("topic continuity %.2f", topic))
	}
	bonus := math.Min(s.cfg.SessionStep*float64(length), s.cfg.SessionCap)
	if length > 0 {
		signals = append(signals, fmt.Sprintf("session length %d", length))
	}

	score := clamp01(refScore*s.cfg.ReferenceWeight + topic*s.cfg.TopicWeight + bonus)

	bucket := "high"
	switch {
	case score < s.cfg.LowBucket:
		bucket = "low"
	case score < s.cfg.HighBucket:
		bucket = "moderate"
	}
	reasoning := bucket + " context dependency"
	if len(signals) > 0 {
		reasoning += ": " + strings.Join(signals, ", ")
	}

	return &ContextResult{
		Score:           score,
		HasReference:    refs > 0,
		ReferenceCount:  refs,
		TopicContinuity: topic,
		SessionLength:   length,
		Reasoning:       reasoning,
	}
}
