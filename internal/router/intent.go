package router

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/RichLycus/ProjekUtama-sub000/internal/session"
)

// CategoryConfig configures how one intent is scored.
type CategoryConfig struct {
	Patterns          []string `mapstructure:"patterns" yaml:"patterns"`
	Keywords          []string `mapstructure:"keywords" yaml:"keywords"`
	SecondaryKeywords []string `mapstructure:"secondary_keywords" yaml:"secondary_keywords"`
	Weight            float64  `mapstructure:"weight" yaml:"weight"`
	ModeHint          Mode     `mapstructure:"mode_hint" yaml:"mode_hint"`
}

// IntentConfig holds the tunable parameters of the IntentClassifier.
type IntentConfig struct {
	Categories map[Intent]CategoryConfig `mapstructure:"categories" yaml:"categories"`

	PatternScore      float64 `mapstructure:"pattern_score" yaml:"pattern_score"`
	KeywordStep       float64 `mapstructure:"keyword_step" yaml:"keyword_step"`
	PrimaryCap        float64 `mapstructure:"primary_cap" yaml:"primary_cap"`
	SecondaryCap      float64 `mapstructure:"secondary_cap" yaml:"secondary_cap"`
	DefaultConfidence float64 `mapstructure:"default_confidence" yaml:"default_confidence"`

	UltraShortLength int     `mapstructure:"ultra_short_length" yaml:"ultra_short_length"`
	ShortTextLength  int     `mapstructure:"short_text_length" yaml:"short_text_length"`
	ShortNudgeMin    float64 `mapstructure:"short_nudge_min" yaml:"short_nudge_min"`
	LongTextLength   int     `mapstructure:"long_text_length" yaml:"long_text_length"`
	LongTextBoost    float64 `mapstructure:"long_text_boost" yaml:"long_text_boost"`
	ComparisonFloor  float64 `mapstructure:"comparison_floor" yaml:"comparison_floor"`
	CreativeBoost    float64 `mapstructure:"creative_boost" yaml:"creative_boost"`

	ComplexIndicators []string `mapstructure:"complex_indicators" yaml:"complex_indicators"`
	QuestionWords     []string `mapstructure:"question_words" yaml:"question_words"`
	ComparisonWords   []string `mapstructure:"comparison_words" yaml:"comparison_words"`
	CreativeVerbs     []string `mapstructure:"creative_verbs" yaml:"creative_verbs"`
}

// DefaultIntentConfig returns the built-in category table. English is the
// primary keyword language, Chinese the secondary fallback.
func DefaultIntentConfig() IntentConfig {
	return IntentConfig{
		Categories: map[Intent]CategoryConfig{
			IntentGreeting: {
				Patterns: []string{
					`^\s*(hi|hello|hey|howdy|greetings|yo|good\s+(morning|afternoon|evening))\b`,
					`^\s*(你好|您好|嗨|早上好|晚上好)`,
				},
				Keywords:          []string{"hi", "hello", "hey", "howdy", "greetings", "morning", "evening"},
				SecondaryKeywords: []string{"你好", "您好", "嗨", "早上好", "晚上好"},
				Weight:            1.0,
				ModeHint:          ModeFast,
			},
			IntentChitchat: {
				Patterns: []string{
					`\b(how\s+are\s+you|what'?s\s+up|thank(s|\s+you)|bye|goodbye|see\s+you|nice\s+to\s+meet)\b`,
					`(谢谢|再见|最近怎么样|哈哈)`,
				},
				Keywords:          []string{"thanks", "thank", "bye", "goodbye", "lol", "cool", "nice", "awesome", "ok", "okay"},
				SecondaryKeywords: []string{"谢谢", "再见", "哈哈", "不错"},
				Weight:            0.9,
				ModeHint:          ModeFast,
			},
			IntentSimpleQuestion: {
				Patterns: []string{
					`^\s*(what|who|where|when)\s+(is|are|was|were)\s+\S+(\s+\S+){0,3}\s*\??\s*$`,
					`^\s*(define|meaning\s+of)\b`,
				},
				Keywords:          []string{"what", "who", "where", "when", "define", "meaning"},
				SecondaryKeywords: []string{"是什么", "在哪", "谁是", "什么时候"},
				Weight:            0.8,
				ModeHint:          ModeFast,
			},
			IntentFactual: {
				Patterns: []string{
					`\b(how\s+many|how\s+much|what\s+year|which\s+(country|city|year)|list\s+of|facts?\s+about)\b`,
				},
				Keywords:          []string{"history", "population", "capital", "date", "year", "fact", "facts", "list"},
				SecondaryKeywords: []string{"多少", "哪一年", "历史", "事实"},
				Weight:            0.8,
				ModeHint:          ModeDepends,
			},
			IntentTechnical: {
				Patterns: []string{
					`\b(code|function|api|bug|error|compile|deploy|database|sql|algorithm|server|kubernetes|docker)\b`,
					"```",
				},
				Keywords: []string{
					"code", "function", "api", "bug", "error", "debug", "compile", "deploy", "database",
					"sql", "algorithm", "server", "docker", "kubernetes", "python", "golang", "java",
					"javascript", "install", "config", "configure",
				},
				SecondaryKeywords: []string{"代码", "函数", "编程", "数据库", "服务器", "部署", "报错"},
				Weight:            0.9,
				ModeHint:          ModeThorough,
			},
			IntentComplexQuestion: {
				Patterns: []string{
					`\b(why\s+(does|do|is|are|did)|how\s+(does|do|can|could|should|would))\b`,
					`\b(step\s+by\s+step|in\s+detail|implications?|consequences?)\b`,
				},
				Keywords:          []string{"why", "how", "explain", "implications", "consequences", "relationship", "impact", "mechanism", "detail"},
				SecondaryKeywords: []string{"为什么", "如何", "怎样", "原理", "影响", "详细"},
				Weight:            0.85,
				ModeHint:          ModeThorough,
			},
			IntentAnalytical: {
				Patterns: []string{
					`\b(analy[sz]e|evaluate|assess|compare|contrast|pros\s+and\s+cons|trade-?offs?)\b`,
				},
				Keywords: []string{
					"analyze", "analyse", "analysis", "evaluate", "assess", "compare", "comparison",
					"contrast", "tradeoff", "tradeoffs", "pros", "cons", "critique",
				},
				SecondaryKeywords: []string{"分析", "评估", "比较", "对比", "优缺点"},
				Weight:            1.0,
				ModeHint:          ModeThorough,
			},
			IntentCreative: {
				Patterns: []string{
					`\b(write|compose|create|imagine|invent|draft)\s+(a|an|me|some)?\s*(short\s+)?(story|poem|song|essay|script|novel|haiku|lyrics|tale)\b`,
					`\b(story|poem|haiku|lyrics)\b`,
				},
				Keywords:          []string{"story", "poem", "song", "essay", "haiku", "lyrics", "imagine", "creative", "fiction", "novel", "compose"},
				SecondaryKeywords: []string{"故事", "诗", "写一首", "创作", "小说"},
				Weight:            1.0,
				ModeHint:          ModeThorough,
			},
		},
		PatternScore:      0.6,
		KeywordStep:       0.15,
		PrimaryCap:        0.5,
		SecondaryCap:      0.4,
		DefaultConfidence: 0.3,
		UltraShortLength:  10,
		ShortTextLength:   30,
		ShortNudgeMin:     0.2,
		LongTextLength:    200,
		LongTextBoost:     1.2,
		ComparisonFloor:   0.8,
		CreativeBoost:     1.1,
		ComplexIndicators: []string{
			"analyze", "explain", "detail", "detailed", "comprehensive", "implications",
			"step by step", "in depth", "architecture", "strategy", "详细", "深入", "全面",
		},
		QuestionWords: []string{
			"what", "why", "how", "when", "where", "which", "who",
			"什么", "为什么", "怎么", "如何", "哪", "谁",
		},
		ComparisonWords: []string{
			"compare", "comparison", "versus", "vs", "difference between", "differences between",
			"better than", "比较", "区别", "对比",
		},
		CreativeVerbs: []string{
			"write", "compose", "create", "imagine", "invent", "draft", "写", "创作", "编",
		},
	}
}

type compiledCategory struct {
	intent    Intent
	patterns  []*regexp.Regexp
	primary   []string
	secondary []string
	weight    float64
	hint      Mode
}

// IntentClassifier scores text against every configured category and applies
// an ordered set of heuristic rules on top of the best raw score.
type IntentClassifier struct {
	cfg        IntentConfig
	categories []compiledCategory
}

// NewIntentClassifier compiles the category patterns. Invalid patterns are
// reported as errors rather than silently skipped.
func NewIntentClassifier(cfg IntentConfig) (*IntentClassifier, error) {
	c := &IntentClassifier{cfg: cfg}
	for _, intent := range AllIntents() {
		cat, ok := cfg.Categories[intent]
		if !ok {
			continue
		}
		cc := compiledCategory{
			intent:    intent,
			primary:   foldAll(cat.Keywords),
			secondary: foldAll(cat.SecondaryKeywords),
			weight:    cat.Weight,
			hint:      cat.ModeHint,
		}
		if cc.hint == "" {
			cc.hint = ModeDepends
		}
		for _, p := range cat.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("intent %s: compile pattern %q: %w", intent, p, err)
			}
			cc.patterns = append(cc.patterns, re)
		}
		c.categories = append(c.categories, cc)
	}
	return c, nil
}

// MustNewIntentClassifier is NewIntentClassifier for built-in configs.
func MustNewIntentClassifier(cfg IntentConfig) *IntentClassifier {
	c, err := NewIntentClassifier(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the intent of text. It never fails: empty text yields
// IntentUnknown with zero confidence.
func (c *IntentClassifier) Classify(text string) *IntentResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &IntentResult{
			Intent:     IntentUnknown,
			Confidence: 0,
			ModeHint:   ModeFast,
			Scores:     map[Intent]float64{},
			Reasoning:  []string{"empty input"},
		}
	}

	lower := strings.ToLower(trimmed)
	tokens := tokenSet(trimmed)

	scores := make(map[Intent]float64, len(c.categories))
	best := IntentGeneral
	bestScore := 0.0
	for _, cat := range c.categories {
		s := c.scoreCategory(cat, lower, tokens)
		scores[cat.intent] = s
		if s > bestScore {
			best, bestScore = cat.intent, s
		}
	}

	res := &IntentResult{Scores: scores}
	if bestScore == 0 {
		res.Intent = IntentGeneral
		res.Confidence = c.cfg.DefaultConfidence
		res.Reasoning = append(res.Reasoning, "no category matched, using low-confidence default")
	} else {
		res.Intent = best
		res.Confidence = bestScore
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("best raw score %s=%.2f", best, bestScore))
	}

	c.applyRules(res, trimmed, lower, tokens)

	res.Confidence = clamp01(res.Confidence)
	res.ModeHint = c.hintFor(res.Intent)
	return res
}

// RawScore exposes the pre-heuristic score of one category.
func (c *IntentClassifier) RawScore(intent Intent, text string) float64 {
	trimmed := strings.TrimSpace(text)
	for _, cat := range c.categories {
		if cat.intent == intent {
			return c.scoreCategory(cat, strings.ToLower(trimmed), tokenSet(trimmed))
		}
	}
	return 0
}

func (c *IntentClassifier) scoreCategory(cat compiledCategory, lower string, tokens map[string]struct{}) float64 {
	score := 0.0
	for _, re := range cat.patterns {
		if re.MatchString(lower) {
			score += c.cfg.PatternScore
			break
		}
	}

	primary := min(float64(countHits(cat.primary, lower, tokens))*c.cfg.KeywordStep, c.cfg.PrimaryCap)
	secondary := min(float64(countHits(cat.secondary, lower, tokens))*c.cfg.KeywordStep, c.cfg.SecondaryCap)
	// The secondary language is a fallback; taking the larger bonus keeps the
	// score monotonic in keyword hits for mixed-language text.
	score += max(primary, secondary)

	return clamp01(score * cat.weight)
}

func (c *IntentClassifier) applyRules(res *IntentResult, text, lower string, tokens map[string]struct{}) {
	length := utf8.RuneCountInString(text)

	// 1. Ultra-short text belongs to the simple group.
	if length < c.cfg.UltraShortLength {
		if res.Intent.IsSimple() {
			res.Confidence = max(res.Confidence, 0.8)
		} else {
			target := IntentSimpleQuestion
			for _, in := range []Intent{IntentGreeting, IntentChitchat, IntentSimpleQuestion} {
				if res.Scores[in] > res.Scores[target] {
					target = in
				}
			}
			res.Intent = target
			res.Confidence = max(res.Scores[target], 0.6)
		}
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("ultra-short text (%d chars) forces simple group: %s", length, res.Intent))
	}

	// 2. Short text leans simple when the simple score is non-trivial.
	if length < c.cfg.ShortTextLength && !res.Intent.IsSimple() && res.Scores[IntentSimpleQuestion] >= c.cfg.ShortNudgeMin {
		res.Intent = IntentSimpleQuestion
		res.Confidence = max(res.Scores[IntentSimpleQuestion], res.Confidence*0.9)
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("short text (%d chars) nudged to simple_question", length))
	}

	// 3. Long text with complexity indicators.
	if length > c.cfg.LongTextLength {
		if hit := firstHit(c.cfg.ComplexIndicators, lower, tokens); hit != "" {
			if res.Intent != IntentAnalytical && res.Intent != IntentCreative {
				res.Intent = IntentComplexQuestion
			}
			res.Confidence = min(1, max(res.Confidence, res.Scores[IntentComplexQuestion])*c.cfg.LongTextBoost)
			res.Reasoning = append(res.Reasoning, fmt.Sprintf("long text (%d chars) with indicator %q upgraded to %s", length, hit, res.Intent))
		}
	}

	// 4. Several distinct question words.
	if n := countHits(foldAll(c.cfg.QuestionWords), lower, tokens); n >= 2 {
		if res.Intent != IntentAnalytical && res.Intent != IntentCreative {
			res.Intent = IntentComplexQuestion
		}
		res.Confidence = max(res.Confidence, 0.7)
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("%d distinct question words upgraded to %s", n, res.Intent))
	}

	// 5. Comparisons are always complex.
	if hit := firstHit(c.cfg.ComparisonWords, lower, tokens); hit != "" {
		if res.Intent != IntentAnalytical {
			res.Intent = IntentComplexQuestion
		}
		res.Confidence = max(res.Confidence, c.cfg.ComparisonFloor)
		res.Reasoning = append(res.Reasoning, fmt.Sprintf("comparison word %q forces %s", hit, res.Intent))
	}

	// 6. Creative action verbs reinforce a creative result.
	if res.Intent == IntentCreative {
		if hit := firstHit(c.cfg.CreativeVerbs, lower, tokens); hit != "" {
			res.Confidence = min(1, res.Confidence*c.cfg.CreativeBoost)
			res.Reasoning = append(res.Reasoning, fmt.Sprintf("creative verb %q boosts confidence", hit))
		}
	}
}

func (c *IntentClassifier) hintFor(intent Intent) Mode {
	switch intent {
	case IntentUnknown:
		return ModeFast
	case IntentGeneral:
		return ModeDepends
	}
	for _, cat := range c.categories {
		if cat.intent == intent {
			return cat.hint
		}
	}
	return ModeDepends
}

// tokenSet returns the folded word tokens of text.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range session.Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// matches reports whether keyword occurs in text. Single ASCII words match
// whole tokens; phrases and non-ASCII keywords match as substrings.
func matches(keyword, lower string, tokens map[string]struct{}) bool {
	if keyword == "" {
		return false
	}
	if strings.ContainsAny(keyword, " -'") || !isASCII(keyword) {
		return strings.Contains(lower, keyword)
	}
	_, ok := tokens[keyword]
	return ok
}

func countHits(keywords []string, lower string, tokens map[string]struct{}) int {
	n := 0
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if matches(kw, lower, tokens) {
			n++
		}
	}
	return n
}

func firstHit(keywords []string, lower string, tokens map[string]struct{}) string {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if matches(kw, lower, tokens) {
			return kw
		}
	}
	return ""
}

func foldAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, strings.ToLower(strings.TrimSpace(w)))
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
