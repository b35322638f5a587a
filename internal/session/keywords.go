package session

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// MinKeywordLength is the shortest non-Han token kept as a keyword.
const MinKeywordLength = 2

var englishStopwords = toSet(
	"a", "an", "and", "are", "as", "at", "be", "been", "but", "by", "can", "could",
	"did", "do", "does", "for", "from", "had", "has", "have", "he", "her", "him",
	"his", "how", "i", "if", "in", "into", "is", "it", "its", "me", "my", "no",
	"not", "of", "on", "or", "our", "she", "so", "than", "that", "the", "their",
	"them", "then", "there", "these", "they", "this", "to", "us", "was", "we",
	"were", "what", "when", "where", "which", "who", "why", "will", "with",
	"would", "you", "your", "about", "please", "just", "also", "some", "any",
)

var chineseStopwords = toSet(
	"我们", "你们", "他们", "什么", "这个", "那个", "一个", "可以", "没有", "就是",
	"因为", "所以", "但是", "如果", "还是", "或者", "然后", "这样", "那么", "怎么",
	"为什", "请问", "一下",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func isHan(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// Tokenize case-folds text and splits it into word tokens. Runs of Han
// characters are emitted as overlapping bigrams since they carry no spaces.
// Stopwords are kept; see ExtractKeywords.
func Tokenize(text string) []string {
	// Casers are stateful; one per call keeps Tokenize safe for concurrent use.
	folded := cases.Fold().String(text)
	var tokens []string
	var word, han []rune

	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}
	flushHan := func() {
		switch {
		case len(han) == 1:
			tokens = append(tokens, string(han))
		case len(han) > 1:
			for i := 0; i+1 < len(han); i++ {
				tokens = append(tokens, string(han[i:i+2]))
			}
		}
		han = han[:0]
	}

	for _, r := range folded {
		switch {
		case isHan(r):
			flushWord()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			flushHan()
			word = append(word, r)
		case r == '\'' && len(word) > 0:
			// keep contractions together: don't, it's
			word = append(word, r)
		default:
			flushWord()
			flushHan()
		}
	}
	flushWord()
	flushHan()
	return tokens
}

// ExtractKeywords returns the distinct meaningful tokens of text: stopwords
// and tokens shorter than MinKeywordLength runes are dropped.
func ExtractKeywords(text string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		tok = strings.Trim(tok, "'")
		if len([]rune(tok)) < MinKeywordLength {
			continue
		}
		if _, stop := englishStopwords[tok]; stop {
			continue
		}
		if _, stop := chineseStopwords[tok]; stop {
			continue
		}
		keywords[tok] = struct{}{}
	}
	return keywords
}

// Similarity is the Jaccard index of the keyword sets of a and b.
// It is 0 when either side has no keywords.
func Similarity(a, b string) float64 {
	return jaccard(ExtractKeywords(a), ExtractKeywords(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
