package handlers

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

const (
	// DefaultMinLength is the response length (runes) below which the
	// score is scaled down.
	DefaultMinLength = 20
	// DefaultQualityThreshold is the score under which an upgrade is requested.
	DefaultQualityThreshold = 0.6
)

// hedges mark answers that dodge the question.
var hedges = []string{
	"i don't know",
	"i do not know",
	"i'm not sure",
	"i am not sure",
	"i cannot answer",
	"i can't answer",
	"as an ai",
	"我不知道",
	"不确定",
}

// QualityCheckHandler scores the response with cheap heuristics and sets
// FlagNeedsUpgrade when the score falls below the threshold.
type QualityCheckHandler struct {
	MinLength int
	Threshold float64
}

func (h *QualityCheckHandler) Run(_ context.Context, ec *pipeline.ExecutionContext) error {
	response := ec.GetString(KeyResponse)
	score := Score(response, h.MinLength)

	ec.Set(KeyQualityScore, score)
	ec.SetFlag(FlagNeedsUpgrade, score < h.Threshold)
	ec.SetOutput(score)
	return nil
}

// Score rates a response in [0,1]. Empty answers score 0, short answers are
// scaled by length and hedging phrases cost 0.4.
func Score(response string, minLength int) float64 {
	text := strings.TrimSpace(response)
	if text == "" {
		return 0
	}
	score := 1.0
	if n := utf8.RuneCountInString(text); minLength > 0 && n < minLength {
		score = float64(n) / float64(minLength)
	}
	lower := strings.ToLower(text)
	for _, h := range hedges {
		if strings.Contains(lower, h) {
			score -= 0.4
			break
		}
	}
	return max(0, min(1, score))
}

func newQualityCheck(cfg map[string]any) (pipeline.Handler, error) {
	h := &QualityCheckHandler{MinLength: DefaultMinLength, Threshold: DefaultQualityThreshold}

	n, ok, err := configInt(cfg, "min_length")
	if err != nil {
		return nil, err
	}
	if ok {
		if n < 0 {
			return nil, fmt.Errorf("min_length must not be negative, got %d", n)
		}
		h.MinLength = n
	}

	t, ok, err := configFloat(cfg, "threshold")
	if err != nil {
		return nil, err
	}
	if ok {
		if t < 0 || t > 1 {
			return nil, fmt.Errorf("threshold must be within [0, 1], got %v", t)
		}
		h.Threshold = t
	}
	return h, nil
}
