// Package router decides which processing tier should handle a request.
// Intent, complexity and conversational context are scored independently and
// fused by the ModeSelector into one auditable ModeDecision.
package router

import (
	"time"
)

// Intent is the classified purpose of a request.
type Intent string

const (
	IntentGreeting        Intent = "greeting"
	IntentChitchat        Intent = "chitchat"
	IntentSimpleQuestion  Intent = "simple_question"
	IntentFactual         Intent = "factual"
	IntentTechnical       Intent = "technical"
	IntentComplexQuestion Intent = "complex_question"
	IntentAnalytical      Intent = "analytical"
	IntentCreative        Intent = "creative"
	// IntentGeneral is returned when no category scored at all.
	IntentGeneral Intent = "general"
	// IntentUnknown is returned for empty input.
	IntentUnknown Intent = "unknown"
)

// AllIntents returns every intent in a stable order.
func AllIntents() []Intent {
	return []Intent{
		IntentGreeting,
		IntentChitchat,
		IntentSimpleQuestion,
		IntentFactual,
		IntentTechnical,
		IntentComplexQuestion,
		IntentAnalytical,
		IntentCreative,
		IntentGeneral,
		IntentUnknown,
	}
}

// String returns the string representation of an Intent.
func (i Intent) String() string {
	return string(i)
}

// IsValid checks if an Intent is a known category.
func (i Intent) IsValid() bool {
	for _, valid := range AllIntents() {
		if i == valid {
			return true
		}
	}
	return false
}

// IsSimple reports whether the intent belongs to the cheap conversational group.
func (i Intent) IsSimple() bool {
	return i == IntentGreeting || i == IntentChitchat || i == IntentSimpleQuestion
}

// Mode is a processing tier.
type Mode string

const (
	// ModeFast answers with a small, local model and no retrieval.
	ModeFast Mode = "fast"
	// ModeThorough uses the capable model with retrieval.
	ModeThorough Mode = "thorough"
	// ModeHybrid starts cheap and may upgrade after a quality check.
	ModeHybrid Mode = "hybrid"
	// ModeDepends defers the choice to the pipeline routing table.
	ModeDepends Mode = "depends"
)

// AllModes returns every mode.
func AllModes() []Mode {
	return []Mode{ModeFast, ModeThorough, ModeHybrid, ModeDepends}
}

// String returns the string representation of a Mode.
func (m Mode) String() string {
	return string(m)
}

// IsValid checks if a Mode is known.
func (m Mode) IsValid() bool {
	for _, valid := range AllModes() {
		if m == valid {
			return true
		}
	}
	return false
}

// Level is a coarse complexity bucket.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Factor names one of the complexity dimensions.
type Factor string

const (
	FactorLength    Factor = "length"
	FactorTechnical Factor = "technical"
	FactorStructure Factor = "structure"
	FactorContext   Factor = "context"
	FactorReasoning Factor = "reasoning"
)

// AllFactors returns the factors in reporting order.
func AllFactors() []Factor {
	return []Factor{FactorLength, FactorTechnical, FactorStructure, FactorContext, FactorReasoning}
}

// IntentResult is the output of the IntentClassifier.
type IntentResult struct {
	Intent     Intent             `json:"intent"`
	Confidence float64            `json:"confidence"`
	ModeHint   Mode               `json:"mode_hint"`
	Scores     map[Intent]float64 `json:"scores"`
	Reasoning  []string           `json:"reasoning"`
}

// FactorScore is one complexity dimension with its explanation.
type FactorScore struct {
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Explanation string  `json:"explanation"`
}

// Weighted returns the factor's contribution to the overall score.
func (f FactorScore) Weighted() float64 {
	return f.Score * f.Weight
}

// ComplexityResult is the output of the ComplexityAnalyzer.
type ComplexityResult struct {
	Factors            map[Factor]FactorScore `json:"factors"`
	OverallScore       float64                `json:"overall_score"`
	Level              Level                  `json:"level"`
	ModeRecommendation Mode                   `json:"mode_recommendation"`
	Reasoning          string                 `json:"reasoning"`
}

// ContextResult is the output of the ContextScorer.
type ContextResult struct {
	Score           float64 `json:"score"`
	HasReference    bool    `json:"has_reference"`
	ReferenceCount  int     `json:"reference_count"`
	TopicContinuity float64 `json:"topic_continuity"`
	SessionLength   int     `json:"session_length"`
	Reasoning       string  `json:"reasoning"`
}

// ModeDecision is the fused routing decision and the only value downstream
// components consume.
type ModeDecision struct {
	Mode            Mode               `json:"mode"`
	Confidence      float64            `json:"confidence"`
	IntentScore     float64            `json:"intent_score"`
	ComplexityScore float64            `json:"complexity_score"`
	ContextScore    float64            `json:"context_score"`
	OverallScore    float64            `json:"overall_score"`
	Breakdown       map[string]float64 `json:"breakdown"`
	Overrides       []string           `json:"overrides,omitempty"`
	Reasoning       string             `json:"reasoning"`
	Metadata        map[string]any     `json:"metadata,omitempty"`

	Intent     *IntentResult     `json:"intent,omitempty"`
	Complexity *ComplexityResult `json:"complexity,omitempty"`
	Context    *ContextResult    `json:"context,omitempty"`

	DecidedAt time.Time     `json:"decided_at"`
	Duration  time.Duration `json:"duration"`
}

// RouterStats tracks routing statistics for monitoring and tuning.
type RouterStats struct {
	TotalRequests      int64            `json:"total_requests"`
	ModeDistribution   map[Mode]int64   `json:"mode_distribution"`
	IntentDistribution map[Intent]int64 `json:"intent_distribution"`
	OverrideCounts     map[string]int64 `json:"override_counts"`
	HybridEscalations  int64            `json:"hybrid_escalations"`
	AverageConfidence  float64          `json:"average_confidence"`
}

// ThoroughRatio returns the percentage of requests routed to the thorough tier.
func (s *RouterStats) ThoroughRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.ModeDistribution[ModeThorough]) / float64(s.TotalRequests) * 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
