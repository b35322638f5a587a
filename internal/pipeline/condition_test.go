package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		src     string
		kind    RefKind
		key     string
		literal any
	}{
		{"flags.cache_hit == false", RefFlag, "cache_hit", false},
		{"flags.needs_upgrade == true", RefFlag, "needs_upgrade", true},
		{"config.tier == 'thorough'", RefConfig, "tier", "thorough"},
		{`config.mode == "strict"`, RefConfig, "mode", "strict"},
		{"intent == greeting", RefData, "intent", "greeting"},
		{"user.lang == id", RefData, "user.lang", "id"},
		{"score == 0.5", RefData, "score", 0.5},
		{"count == 3", RefData, "count", 3.0},
		{"response == null", RefData, "response", nil},
		{"  response   ==   none  ", RefData, "response", nil},
		{"model == llama3.1:8b", RefData, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			c, err := ParseCondition(tt.src)
			if tt.key == "" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.key, c.Key)
			assert.Equal(t, tt.literal, c.Literal)
		})
	}
}

func TestParseCondition_Rejects(t *testing.T) {
	for _, src := range []string{
		"",
		"flags.ready",
		"a == b == c",
		"a != b",
		"a > 3",
		"(a) == b",
		"a && b == c",
		"a ==",
		"== b",
		"a == b c",
	} {
		_, err := ParseCondition(src)
		assert.Error(t, err, src)
	}
}

func TestCondition_Eval(t *testing.T) {
	ec := NewExecutionContext(map[string]any{
		"intent": "greeting",
		"count":  3,
		"nested": map[string]any{"lang": "id"},
		"empty":  nil,
	})
	ec.SetFlag("cache_hit", true)
	ec.Config["tier"] = "fast"

	tests := []struct {
		src  string
		want bool
	}{
		{"intent == greeting", true},
		{"intent == 'chitchat'", false},
		{"count == 3", true},
		{"count == 3.0", true},
		{"count == '3'", false},
		{"nested.lang == id", true},
		{"nested.missing == null", true},
		{"empty == null", true},
		{"absent == null", true},
		{"absent == false", false},
		{"flags.cache_hit == true", true},
		{"flags.unset == false", true},
		{"flags.unset == true", false},
		{"config.tier == fast", true},
		{"config.model == null", true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			c, err := ParseCondition(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Eval(ec))
		})
	}
}

func TestCondition_String(t *testing.T) {
	c, err := ParseCondition("flags.x == true")
	require.NoError(t, err)
	assert.Equal(t, "flags.x == true", c.String())

	assert.Equal(t, "config.tier == fast", (&Condition{Kind: RefConfig, Key: "tier", Literal: "fast"}).String())
}
