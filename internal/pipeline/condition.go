package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RefKind selects where a condition reads its value from.
type RefKind int

const (
	// RefData reads a key (dotted path) from ExecutionContext.Data.
	RefData RefKind = iota
	// RefFlag reads ExecutionContext.Flags; unset flags are false.
	RefFlag
	// RefConfig reads a key (dotted path) from ExecutionContext.Config.
	RefConfig
)

func (k RefKind) String() string {
	switch k {
	case RefFlag:
		return "flags"
	case RefConfig:
		return "config"
	default:
		return "data"
	}
}

// Condition is a parsed `<ref> == <literal>` expression.
type Condition struct {
	Kind    RefKind
	Key     string
	Literal any
	Source  string
}

var (
	refPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z0-9_\-]+)*$`)
	bareWordPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// ParseCondition parses the restricted condition language. Only a single
// equality comparison is supported.
func ParseCondition(src string) (*Condition, error) {
	s := strings.TrimSpace(src)
	if strings.Count(s, "==") != 1 {
		return nil, fmt.Errorf("condition %q: expected exactly one '=='", src)
	}
	left, right, _ := strings.Cut(s, "==")
	left, right = strings.TrimSpace(left), strings.TrimSpace(right)

	if strings.ContainsAny(left, "!<>&|()") || !refPattern.MatchString(left) {
		return nil, fmt.Errorf("condition %q: invalid reference %q", src, left)
	}
	lit, err := parseLiteral(right)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", src, err)
	}

	c := &Condition{Kind: RefData, Key: left, Literal: lit, Source: src}
	switch {
	case strings.HasPrefix(left, "flags."):
		c.Kind, c.Key = RefFlag, strings.TrimPrefix(left, "flags.")
	case strings.HasPrefix(left, "config."):
		c.Kind, c.Key = RefConfig, strings.TrimPrefix(left, "config.")
	}
	return c, nil
}

func parseLiteral(s string) (any, error) {
	switch {
	case s == "":
		return nil, fmt.Errorf("missing literal")
	case s == "true":
		return true, nil
	case s == "false":
		return false, nil
	case s == "null" || s == "none" || s == "nil":
		return nil, nil
	case len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0]:
		return s[1 : len(s)-1], nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	if bareWordPattern.MatchString(s) {
		return s, nil
	}
	return nil, fmt.Errorf("unsupported literal %q", s)
}

// Eval reports whether the condition holds for ec.
func (c *Condition) Eval(ec *ExecutionContext) bool {
	var v any
	switch c.Kind {
	case RefFlag:
		v = ec.Flags[c.Key]
	case RefConfig:
		v, _ = lookupPath(ec.Config, c.Key)
	default:
		v, _ = lookupPath(ec.Data, c.Key)
	}
	return literalEqual(v, c.Literal)
}

func (c *Condition) String() string {
	if c.Source != "" {
		return c.Source
	}
	return fmt.Sprintf("%s.%s == %v", c.Kind, c.Key, c.Literal)
}

// lookupPath resolves a dotted path through nested maps. An exact key match
// wins over path traversal.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[path]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(path, ".")
	if !found {
		return nil, false
	}
	switch next := m[head].(type) {
	case map[string]any:
		return lookupPath(next, rest)
	case map[string]string:
		v, ok := next[rest]
		return v, ok
	default:
		return nil, false
	}
}

func literalEqual(v, lit any) bool {
	if lit == nil {
		return v == nil
	}
	switch l := lit.(type) {
	case bool:
		b, ok := v.(bool)
		return ok && b == l
	case float64:
		f, ok := toFloat(v)
		return ok && f == l
	case string:
		s, ok := v.(string)
		return ok && s == l
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
