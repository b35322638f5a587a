package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

func validDefinition() *Definition {
	return &Definition{
		ID:   "valid",
		Name: "Valid",
		Steps: []Step{
			step("a", "trace", true, nil),
			step("b", "trace", false, nil),
			step("c", "trace", false, nil),
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Definition)
		want   string
	}{
		{"ok", func(*Definition) {}, ""},
		{"missing id", func(d *Definition) { d.ID = "" }, "Definition.ID"},
		{"no steps", func(d *Definition) { d.Steps = nil }, "Definition.Steps"},
		{"step without handler", func(d *Definition) { d.Steps[1].Handler = "" }, "Steps[1].Handler"},
		{"duplicate ids", func(d *Definition) { d.Steps[2].ID = "a" }, `duplicate step id "a"`},
		{"negative retries", func(d *Definition) { n := -1; d.Steps[0].Retries = &n }, "Retries"},
		{"too many retries", func(d *Definition) { d.ErrorHandling.MaxRetries = 11 }, "MaxRetries"},
		{"temperature out of range", func(d *Definition) { d.Profile.Temperature = 3 }, "Temperature"},
		{"skip_to backwards", func(d *Definition) {
			d.Steps[2].OnSuccess = &OnSuccess{SkipTo: "a"}
		}, "must come later"},
		{"skip_to unknown", func(d *Definition) {
			d.Steps[0].OnSuccess = &OnSuccess{SkipTo: "zzz"}
		}, "does not exist"},
		{"bad fallback ref", func(d *Definition) {
			d.ErrorHandling.FallbackPipelines = []string{"fast"}
		}, "tier/name"},
		{"single member group", func(d *Definition) {
			d.Optimization.ParallelGroups = [][]string{{"a"}}
		}, "at least two"},
		{"non contiguous group", func(d *Definition) {
			d.Optimization.ParallelGroups = [][]string{{"a", "c"}}
		}, "contiguous"},
		{"out of order group", func(d *Definition) {
			d.Optimization.ParallelGroups = [][]string{{"b", "a"}}
		}, "contiguous"},
		{"overlapping groups", func(d *Definition) {
			d.Optimization.ParallelGroups = [][]string{{"a", "b"}, {"b", "c"}}
		}, "another group"},
		{"group with skip_to", func(d *Definition) {
			d.Steps[0].OnSuccess = &OnSuccess{SkipTo: "c"}
			d.Optimization.ParallelGroups = [][]string{{"a", "b"}}
		}, "cannot use skip_to"},
		{"skip_to into group", func(d *Definition) {
			d.Steps[0].OnSuccess = &OnSuccess{SkipTo: "c"}
			d.Optimization.ParallelGroups = [][]string{{"b", "c"}}
		}, `skip_to target "c" is inside parallel group 0`},
		{"skip_to group start", func(d *Definition) {
			d.Steps[0].OnSuccess = &OnSuccess{SkipTo: "b"}
			d.Optimization.ParallelGroups = [][]string{{"b", "c"}}
		}, ""},
		{"unknown group member", func(d *Definition) {
			d.Optimization.ParallelGroups = [][]string{{"a", "x"}}
		}, `unknown step "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDefinition()
			tt.mutate(d)
			err := Validate(d)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	d := validDefinition()
	d.Steps[2].ID = "a"
	d.ErrorHandling.FallbackPipelines = []string{"bad"}

	var verr *ValidationError
	require.ErrorAs(t, Validate(d), &verr)
	assert.Len(t, verr.Problems, 2)
	assert.Equal(t, "valid", verr.Pipeline)
}

func TestPrepare_FailOpenCondition(t *testing.T) {
	d := validDefinition()
	d.Steps[0].Condition = "a > 3"
	d.Steps[1].Condition = "flags.ready == true"
	require.NoError(t, Prepare(d, logging.Nop()))

	assert.Nil(t, d.Steps[0].cond)
	require.NotNil(t, d.Steps[1].cond)
	assert.Equal(t, RefFlag, d.Steps[1].cond.Kind)
}

func TestFlatConfig(t *testing.T) {
	d := validDefinition()
	d.Tier = "thorough"
	d.Config = map[string]any{"tier": "ignored", "style": "concise"}
	d.Profile = Profile{Model: "llama3.1:8b", Temperature: 0.3, MaxTokens: 2048, TopK: 5, Timeout: Duration(2 * time.Minute)}

	assert.Equal(t, map[string]any{
		"tier":        "thorough",
		"style":       "concise",
		"model":       "llama3.1:8b",
		"temperature": 0.3,
		"max_tokens":  2048,
		"top_k":       5,
		"timeout":     "2m0s",
	}, d.FlatConfig())
}

func TestSignature(t *testing.T) {
	d := validDefinition()

	ok, err := VerifySignature(d)
	require.NoError(t, err)
	assert.True(t, ok, "unsigned definitions verify")

	sig, err := ComputeSignature(d)
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	d.Signature = sig
	again, err := ComputeSignature(d)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "the signature field is excluded from the digest")

	ok, err = VerifySignature(d)
	require.NoError(t, err)
	assert.True(t, ok)

	d.Steps[1].Critical = true
	ok, err = VerifySignature(d)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecode_Formats(t *testing.T) {
	docs := map[Format]string{
		FormatYAML: `
id: demo
name: Demo
profile:
  timeout: 45s
steps:
  - id: a
    handler: trace
    timeout: 5s
    on_success: {set_flag: warmed}
error_handling:
  retry_delay: 100ms
  fallback_pipelines: [fast/default]
`,
		FormatTOML: `
id = "demo"
name = "Demo"

[profile]
timeout = "45s"

[[steps]]
id = "a"
handler = "trace"
timeout = "5s"

[steps.on_success]
set_flag = "warmed"

[error_handling]
retry_delay = "100ms"
fallback_pipelines = ["fast/default"]
`,
		FormatJSON: `{
  "id": "demo",
  "name": "Demo",
  "profile": {"timeout": "45s"},
  "steps": [{"id": "a", "handler": "trace", "timeout": "5s", "on_success": {"set_flag": "warmed"}}],
  "error_handling": {"retry_delay": "100ms", "fallback_pipelines": ["fast/default"]}
}`,
	}

	for format, doc := range docs {
		t.Run(string(format), func(t *testing.T) {
			d, err := Decode([]byte(doc), format)
			require.NoError(t, err)
			require.NoError(t, Validate(d))

			assert.Equal(t, "demo", d.ID)
			assert.Equal(t, 45*time.Second, d.Profile.Timeout.Std())
			require.Len(t, d.Steps, 1)
			assert.Equal(t, 5*time.Second, d.Steps[0].Timeout.Std())
			require.NotNil(t, d.Steps[0].OnSuccess)
			assert.Equal(t, "warmed", d.Steps[0].OnSuccess.SetFlag)
			assert.Equal(t, 100*time.Millisecond, d.ErrorHandling.RetryDelay.Std())
			assert.Equal(t, []string{"fast/default"}, d.ErrorHandling.FallbackPipelines)
		})
	}
}

func TestDecode_RejectsUnknownKeys(t *testing.T) {
	for format, doc := range map[Format]string{
		FormatYAML: "id: x\nname: x\nstepz: []\n",
		FormatTOML: "id = \"x\"\nname = \"x\"\nstepz = 1\n",
		FormatJSON: `{"id":"x","name":"x","stepz":[]}`,
	} {
		t.Run(string(format), func(t *testing.T) {
			_, err := Decode([]byte(doc), format)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), "stepz")
		})
	}
}

func TestEncode_RoundTripsSignature(t *testing.T) {
	d := validDefinition()
	d.Profile.Timeout = Duration(30 * time.Second)
	sig, err := ComputeSignature(d)
	require.NoError(t, err)
	d.Signature = sig

	for _, format := range []Format{FormatYAML, FormatTOML, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			data, err := Encode(d, format)
			require.NoError(t, err)
			decoded, err := Decode(data, format)
			require.NoError(t, err)

			ok, err := VerifySignature(decoded)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	for p, want := range map[string]Format{
		"a/b.yaml": FormatYAML,
		"b.YML":    FormatYAML,
		"c.toml":   FormatTOML,
		"d.json":   FormatJSON,
	} {
		got, ok := FormatFromPath(p)
		assert.True(t, ok, p)
		assert.Equal(t, want, got, p)
	}
	_, ok := FormatFromPath("e.ini")
	assert.False(t, ok)
}
