package router

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// ComplexityConfig holds the tunable parameters of the ComplexityAnalyzer.
type ComplexityConfig struct {
	LengthBands []int     `mapstructure:"length_bands" yaml:"length_bands"`
	BandScores  []float64 `mapstructure:"band_scores" yaml:"band_scores"`

	TechnicalKeywords []string            `mapstructure:"technical_keywords" yaml:"technical_keywords"`
	Conjunctions      []string            `mapstructure:"conjunctions" yaml:"conjunctions"`
	Connectors        []string            `mapstructure:"connectors" yaml:"connectors"`
	SimplePatterns    []string            `mapstructure:"simple_patterns" yaml:"simple_patterns"`
	ReferenceWords    []string            `mapstructure:"reference_words" yaml:"reference_words"`
	ReasoningGroups   map[string][]string `mapstructure:"reasoning_groups" yaml:"reasoning_groups"`

	Weights       map[Factor]float64 `mapstructure:"weights" yaml:"weights"`
	LowThreshold  float64            `mapstructure:"low_threshold" yaml:"low_threshold"`
	HighThreshold float64            `mapstructure:"high_threshold" yaml:"high_threshold"`
}

// DefaultComplexityConfig returns the default analyzer tables.
func DefaultComplexityConfig() ComplexityConfig {
	return ComplexityConfig{
		LengthBands: []int{20, 80, 200, 500},
		BandScores:  []float64{0.1, 0.3, 0.6, 0.9},
		TechnicalKeywords: []string{
			"api", "algorithm", "architecture", "async", "bug", "cache", "class", "cluster",
			"code", "compile", "concurrency", "container", "database", "debug", "deploy",
			"docker", "encryption", "endpoint", "function", "golang", "index", "kubernetes",
			"latency", "memory", "microservice", "network", "optimization", "protocol",
			"python", "query", "recursion", "regex", "schema", "server", "sql", "thread",
			"throughput", "transaction",
			"算法", "数据库", "架构", "服务器", "代码", "函数", "并发", "部署", "协议", "缓存",
		},
		Conjunctions: []string{
			"and", "but", "or", "because", "while", "so", "then",
			"而且", "但是", "然后", "因为", "所以", "或者",
		},
		Connectors: []string{
			"however", "therefore", "although", "whereas", "moreover", "furthermore",
			"consequently", "nevertheless", "otherwise", "meanwhile",
			"然而", "因此", "虽然", "不过", "此外", "否则",
		},
		SimplePatterns: []string{
			`^\s*(hi|hello|hey|thanks|thank\s+you|good\s+(morning|afternoon|evening))\b[^,;]*$`,
			`^\s*(what|who|where|when)\s+(is|are|was|were)\s+[^,;]{1,40}\??\s*$`,
			`^\s*(你好|您好|谢谢|早上好)`,
		},
		ReferenceWords: []string{
			"it", "this", "that", "these", "those", "they", "them", "above", "previous",
			"earlier", "former", "latter",
			"它", "这个", "那个", "这些", "那些", "上面", "刚才", "之前",
		},
		ReasoningGroups: map[string][]string{
			"why_how":         {"why", "how", "为什么", "如何", "怎么"},
			"analysis":        {"analyze", "analyse", "analysis", "evaluate", "compare", "assess", "分析", "评估", "比较"},
			"explanation":     {"explain", "describe", "elaborate", "clarify", "解释", "说明", "描述"},
			"problem_solving": {"solve", "fix", "troubleshoot", "resolve", "optimize", "design", "plan", "解决", "修复", "优化", "设计"},
		},
		Weights: map[Factor]float64{
			FactorLength:    0.15,
			FactorTechnical: 0.25,
			FactorStructure: 0.20,
			FactorContext:   0.15,
			FactorReasoning: 0.25,
		},
		LowThreshold:  0.35,
		HighThreshold: 0.6,
	}
}

// Validate checks bands, weights and thresholds.
func (c ComplexityConfig) Validate() error {
	if len(c.LengthBands) != 4 || len(c.BandScores) != 4 {
		return errors.New("complexity: exactly 4 length bands and band scores are required")
	}
	for i := 1; i < len(c.LengthBands); i++ {
		if c.LengthBands[i] <= c.LengthBands[i-1] {
			return fmt.Errorf("complexity: length bands must be increasing, got %v", c.LengthBands)
		}
	}
	if c.LengthBands[0] <= 0 {
		return errors.New("complexity: length bands must be positive")
	}
	var sum float64
	for _, f := range AllFactors() {
		w, ok := c.Weights[f]
		if !ok {
			return fmt.Errorf("complexity: missing weight for factor %s", f)
		}
		if w < 0 {
			return fmt.Errorf("complexity: negative weight for factor %s", f)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("complexity: weights must sum to 1, got %.6f", sum)
	}
	if c.LowThreshold <= 0 || c.HighThreshold <= c.LowThreshold || c.HighThreshold > 1 {
		return fmt.Errorf("complexity: invalid thresholds low=%.2f high=%.2f", c.LowThreshold, c.HighThreshold)
	}
	return nil
}

// ComplexityAnalyzer scores how demanding a request is along five factors.
type ComplexityAnalyzer struct {
	cfg        ComplexityConfig
	simple     []*regexp.Regexp
	clauseSep  *regexp.Regexp
	technical  []string
	connectors []string
	references []string
	reasoning  map[string][]string
	groupOrder []string
}

// NewComplexityAnalyzer validates cfg and compiles its patterns.
func NewComplexityAnalyzer(cfg ComplexityConfig) (*ComplexityAnalyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &ComplexityAnalyzer{
		cfg:        cfg,
		technical:  foldAll(cfg.TechnicalKeywords),
		connectors: foldAll(cfg.Connectors),
		references: foldAll(cfg.ReferenceWords),
		reasoning:  make(map[string][]string, len(cfg.ReasoningGroups)),
	}
	for _, p := range cfg.SimplePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("complexity: compile simple pattern %q: %w", p, err)
		}
		a.simple = append(a.simple, re)
	}
	for name, words := range cfg.ReasoningGroups {
		a.reasoning[name] = foldAll(words)
		a.groupOrder = append(a.groupOrder, name)
	}
	sort.Strings(a.groupOrder)

	// Clauses split on punctuation in both languages and on whole-word conjunctions.
	var alts []string
	for _, w := range foldAll(cfg.Conjunctions) {
		if isASCII(w) {
			alts = append(alts, `\b`+regexp.QuoteMeta(w)+`\b`)
		} else {
			alts = append(alts, regexp.QuoteMeta(w))
		}
	}
	sep := `[,;:，；、。!?！？]`
	if len(alts) > 0 {
		sep += "|" + strings.Join(alts, "|")
	}
	re, err := regexp.Compile(sep)
	if err != nil {
		return nil, fmt.Errorf("complexity: compile clause separator: %w", err)
	}
	a.clauseSep = re
	return a, nil
}

// MustNewComplexityAnalyzer is NewComplexityAnalyzer for built-in configs.
func MustNewComplexityAnalyzer(cfg ComplexityConfig) *ComplexityAnalyzer {
	a, err := NewComplexityAnalyzer(cfg)
	if err != nil {
		panic(err)
	}
	return a
}

// Analyze scores text. Empty text yields an overall score of 0 and LevelLow.
func (a *ComplexityAnalyzer) Analyze(text string) *ComplexityResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		factors := make(map[Factor]FactorScore, 5)
		for _, f := range AllFactors() {
			factors[f] = FactorScore{Weight: a.cfg.Weights[f], Explanation: "empty input"}
		}
		return &ComplexityResult{
			Factors:            factors,
			OverallScore:       0,
			Level:              LevelLow,
			ModeRecommendation: ModeFast,
			Reasoning:          "empty input; " + levelDescription(LevelLow),
		}
	}

	lower := strings.ToLower(trimmed)
	tokens := tokenSet(trimmed)
	runes := utf8.RuneCountInString(trimmed)

	factors := map[Factor]FactorScore{
		FactorLength:    a.lengthScore(runes),
		FactorTechnical: a.technicalScore(lower, tokens, runes),
		FactorStructure: a.structureScore(lower, tokens),
		FactorContext:   a.contextScore(lower, tokens),
		FactorReasoning: a.reasoningScore(lower, tokens),
	}
	var overall float64
	for f, fs := range factors {
		fs.Weight = a.cfg.Weights[f]
		factors[f] = fs
		overall += fs.Weighted()
	}
	overall = clamp01(overall)

	level := a.levelFor(overall)
	return &ComplexityResult{
		Factors:            factors,
		OverallScore:       overall,
		Level:              level,
		ModeRecommendation: recommendationFor(level),
		Reasoning:          topContributors(factors) + "; " + levelDescription(level),
	}
}

func (a *ComplexityAnalyzer) lengthScore(runes int) FactorScore {
	bands, scores := a.cfg.LengthBands, a.cfg.BandScores
	saturate := 2 * bands[len(bands)-1]

	var s float64
	switch {
	case runes >= saturate:
		s = 1
	case runes >= bands[len(bands)-1]:
		last := bands[len(bands)-1]
		s = lerp(scores[len(scores)-1], 1, float64(runes-last)/float64(saturate-last))
	case runes < bands[0]:
		s = lerp(0, scores[0], float64(runes)/float64(bands[0]))
	default:
		for i := 1; i < len(bands); i++ {
			if runes < bands[i] {
				s = lerp(scores[i-1], scores[i], float64(runes-bands[i-1])/float64(bands[i]-bands[i-1]))
				break
			}
		}
	}
	return FactorScore{Score: clamp01(s), Explanation: fmt.Sprintf("%d characters", runes)}
}

func (a *ComplexityAnalyzer) technicalScore(lower string, tokens map[string]struct{}, runes int) FactorScore {
	hits := countHits(a.technical, lower, tokens)
	per50 := math.Max(1, float64(runes)/50)
	s := math.Min(1, 0.5*float64(hits)/per50)
	return FactorScore{Score: s, Explanation: fmt.Sprintf("%d technical terms", hits)}
}

func (a *ComplexityAnalyzer) structureScore(lower string, tokens map[string]struct{}) FactorScore {
	clauses := 0
	for _, part := range a.clauseSep.Split(lower, -1) {
		if strings.TrimSpace(part) != "" {
			clauses++
		}
	}
	connectors := countHits(a.connectors, lower, tokens)

	if connectors == 0 && clauses <= 1 {
		for _, re := range a.simple {
			if re.MatchString(lower) {
				return FactorScore{Score: 0.1, Explanation: "simple greeting or direct question"}
			}
		}
	}

	s := math.Min(0.15*float64(max(clauses-1, 0)), 0.6) + math.Min(0.2*float64(connectors), 0.4)
	return FactorScore{
		Score:       clamp01(s),
		Explanation: fmt.Sprintf("%d clauses, %d connectors", clauses, connectors),
	}
}

func (a *ComplexityAnalyzer) contextScore(lower string, tokens map[string]struct{}) FactorScore {
	refs := countHits(a.references, lower, tokens)
	return FactorScore{
		Score:       math.Min(0.25*float64(refs), 1),
		Explanation: fmt.Sprintf("%d reference words", refs),
	}
}

func (a *ComplexityAnalyzer) reasoningScore(lower string, tokens map[string]struct{}) FactorScore {
	var fired []string
	for _, name := range a.groupOrder {
		if countHits(a.reasoning[name], lower, tokens) > 0 {
			fired = append(fired, name)
		}
	}
	expl := "no reasoning indicators"
	if len(fired) > 0 {
		expl = "indicators: " + strings.Join(fired, ", ")
	}
	return FactorScore{Score: math.Min(0.25*float64(len(fired)), 1), Explanation: expl}
}

func (a *ComplexityAnalyzer) levelFor(overall float64) Level {
	switch {
	case overall < a.cfg.LowThreshold:
		return LevelLow
	case overall < a.cfg.HighThreshold:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func recommendationFor(level Level) Mode {
	switch level {
	case LevelLow:
		return ModeFast
	case LevelHigh:
		return ModeThorough
	default:
		return ModeDepends
	}
}

func levelDescription(level Level) string {
	switch level {
	case LevelLow:
		return "simple request, fast tier suffices"
	case LevelHigh:
		return "demanding request, thorough processing recommended"
	default:
		return "moderate request, tier depends on context"
	}
}

// topContributors names the two factors with the largest weighted scores.
func topContributors(factors map[Factor]FactorScore) string {
	order := AllFactors()
	sort.SliceStable(order, func(i, j int) bool {
		return factors[order[i]].Weighted() > factors[order[j]].Weighted()
	})
	parts := make([]string, 0, 2)
	for _, f := range order[:2] {
		parts = append(parts, fmt.Sprintf("%s=%.2f", f, factors[f].Weighted()))
	}
	return "top factors: " + strings.Join(parts, ", ")
}

func lerp(from, to, t float64) float64 {
	return from + (to-from)*t
}
