package router

import (
	"fmt"
	"math"
	"strings"
)

// SelectorConfig holds the fusion weights and thresholds of the ModeSelector.
type SelectorConfig struct {
	IntentBase map[Intent]float64 `mapstructure:"intent_base" yaml:"intent_base"`

	IntentWeight     float64 `mapstructure:"intent_weight" yaml:"intent_weight"`
	ComplexityWeight float64 `mapstructure:"complexity_weight" yaml:"complexity_weight"`
	ContextWeight    float64 `mapstructure:"context_weight" yaml:"context_weight"`

	ThoroughThreshold float64 `mapstructure:"thorough_threshold" yaml:"thorough_threshold"`
	FastThreshold     float64 `mapstructure:"fast_threshold" yaml:"fast_threshold"`
	HybridThreshold   float64 `mapstructure:"hybrid_threshold" yaml:"hybrid_threshold"`

	HighComplexityMin  float64 `mapstructure:"high_complexity_min" yaml:"high_complexity_min"`
	TrivialComplexity  float64 `mapstructure:"trivial_complexity" yaml:"trivial_complexity"`
	ContextPromoteMin  float64 `mapstructure:"context_promote_min" yaml:"context_promote_min"`
	SessionPromoteMin  int     `mapstructure:"session_promote_min" yaml:"session_promote_min"`
	EnableHybrid       bool    `mapstructure:"enable_hybrid" yaml:"enable_hybrid"`
	HybridSignalCutoff float64 `mapstructure:"hybrid_signal_cutoff" yaml:"hybrid_signal_cutoff"`
}

// DefaultSelectorConfig returns the default fusion parameters.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		IntentBase: map[Intent]float64{
			IntentGreeting:        0.10,
			IntentChitchat:        0.15,
			IntentSimpleQuestion:  0.30,
			IntentFactual:         0.45,
			IntentGeneral:         0.50,
			IntentUnknown:         0.50,
			IntentTechnical:       0.70,
			IntentComplexQuestion: 0.75,
			IntentAnalytical:      0.85,
			IntentCreative:        0.85,
		},
		IntentWeight:       0.4,
		ComplexityWeight:   0.4,
		ContextWeight:      0.2,
		ThoroughThreshold:  0.6,
		FastThreshold:      0.4,
		HybridThreshold:    0.7,
		HighComplexityMin:  0.7,
		TrivialComplexity:  0.5,
		ContextPromoteMin:  0.7,
		SessionPromoteMin:  5,
		EnableHybrid:       true,
		HybridSignalCutoff: 0.5,
	}
}

// Validate checks that weights sum to 1 and thresholds are ordered.
func (c SelectorConfig) Validate() error {
	sum := c.IntentWeight + c.ComplexityWeight + c.ContextWeight
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("selector: weights must sum to 1, got %.6f", sum)
	}
	if c.FastThreshold >= c.ThoroughThreshold {
		return fmt.Errorf("selector: fast threshold %.2f must be below thorough threshold %.2f", c.FastThreshold, c.ThoroughThreshold)
	}
	return nil
}

// Override names recorded in ModeDecision.Overrides.
const (
	OverrideHighComplexity   = "high_complexity"
	OverrideDemandingIntent  = "demanding_intent"
	OverrideTrivialChitchat  = "trivial_chitchat"
	OverrideContextDependent = "context_dependent"
	OverrideHybridEscalation = "hybrid_escalation"
)

// ModeSelector fuses intent, complexity and context into a ModeDecision.
type ModeSelector struct {
	cfg SelectorConfig
}

// NewModeSelector validates cfg and returns a selector.
func NewModeSelector(cfg SelectorConfig) (*ModeSelector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ModeSelector{cfg: cfg}, nil
}

// MustNewModeSelector is NewModeSelector for built-in configs.
func MustNewModeSelector(cfg SelectorConfig) *ModeSelector {
	s, err := NewModeSelector(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// IntentScore returns the intent's base score regressed toward 0.5 by its
// uncertainty.
func (s *ModeSelector) IntentScore(res *IntentResult) float64 {
	base, ok := s.cfg.IntentBase[res.Intent]
	if !ok {
		base = 0.5
	}
	conf := clamp01(res.Confidence)
	return clamp01(base + (0.5-base)*(1-conf))
}

// Select produces the decision. ctx may be nil.
func (s *ModeSelector) Select(intent *IntentResult, complexity *ComplexityResult, ctx *ContextResult) *ModeDecision {
	if intent == nil {
		intent = &IntentResult{Intent: IntentUnknown, ModeHint: ModeFast}
	}
	if complexity == nil {
		complexity = &ComplexityResult{Level: LevelLow, ModeRecommendation: ModeFast}
	}

	intentScore := s.IntentScore(intent)
	complexityScore := clamp01(complexity.OverallScore)
	var contextScore float64
	if ctx != nil {
		contextScore = clamp01(ctx.Score)
	}

	breakdown := map[string]float64{
		"intent":     intentScore * s.cfg.IntentWeight,
		"complexity": complexityScore * s.cfg.ComplexityWeight,
		"context":    contextScore * s.cfg.ContextWeight,
	}
	overall := clamp01(breakdown["intent"] + breakdown["complexity"] + breakdown["context"])
	breakdown["overall"] = overall

	var mode Mode
	var why string
	switch {
	case overall >= s.cfg.ThoroughThreshold:
		mode, why = ModeThorough, fmt.Sprintf("overall %.2f >= %.2f", overall, s.cfg.ThoroughThreshold)
	case overall <= s.cfg.FastThreshold:
		mode, why = ModeFast, fmt.Sprintf("overall %.2f <= %.2f", overall, s.cfg.FastThreshold)
	default:
		mode = intent.ModeHint
		if !mode.IsValid() || mode == ModeHybrid {
			mode = ModeDepends
		}
		why = fmt.Sprintf("overall %.2f in gray zone, following intent hint", overall)
	}
	baseMode := mode
	confidence := 0.6 + 0.4*math.Abs(overall-0.5)

	var overrides []string
	reasons := []string{fmt.Sprintf("base %s (%s)", mode, why)}

	if complexity.Level == LevelHigh && complexityScore > s.cfg.HighComplexityMin {
		mode = ModeThorough
		confidence = math.Max(confidence, complexityScore)
		overrides = append(overrides, OverrideHighComplexity)
		reasons = append(reasons, fmt.Sprintf("high complexity %.2f forces thorough", complexityScore))
	}
	if intent.Intent == IntentAnalytical || intent.Intent == IntentCreative {
		mode = ModeThorough
		confidence = math.Max(confidence, 0.8)
		overrides = append(overrides, OverrideDemandingIntent)
		reasons = append(reasons, fmt.Sprintf("%s intent forces thorough", intent.Intent))
	}
	if (intent.Intent == IntentGreeting || intent.Intent == IntentChitchat) && complexityScore < s.cfg.TrivialComplexity {
		mode = ModeFast
		confidence = math.Max(confidence, 0.85)
		overrides = append(overrides, OverrideTrivialChitchat)
		reasons = append(reasons, fmt.Sprintf("trivial %s demoted to fast", intent.Intent))
	}
	if ctx != nil && contextScore > s.cfg.ContextPromoteMin && ctx.SessionLength > s.cfg.SessionPromoteMin && mode == ModeFast {
		mode = ModeDepends
		overrides = append(overrides, OverrideContextDependent)
		reasons = append(reasons, fmt.Sprintf("context %.2f over %d turns promotes to depends", contextScore, ctx.SessionLength))
	}

	if s.cfg.EnableHybrid && mode == ModeFast && confidence < s.cfg.HybridThreshold &&
		(complexityScore > s.cfg.HybridSignalCutoff || intentScore > s.cfg.HybridSignalCutoff) {
		mode = ModeHybrid
		overrides = append(overrides, OverrideHybridEscalation)
		reasons = append(reasons, fmt.Sprintf("uncertain fast (%.2f) escalated to hybrid", confidence))
	}

	metadata := map[string]any{
		"intent":           string(intent.Intent),
		"intent_hint":      string(intent.ModeHint),
		"complexity_level": string(complexity.Level),
		"base_mode":        string(baseMode),
	}
	if ctx != nil {
		metadata["session_length"] = ctx.SessionLength
	}

	return &ModeDecision{
		Mode:            mode,
		Confidence:      clamp01(confidence),
		IntentScore:     intentScore,
		ComplexityScore: complexityScore,
		ContextScore:    contextScore,
		OverallScore:    overall,
		Breakdown:       breakdown,
		Overrides:       overrides,
		Reasoning:       strings.Join(reasons, "; "),
		Metadata:        metadata,
		Intent:          intent,
		Complexity:      complexity,
		Context:         ctx,
	}
}
