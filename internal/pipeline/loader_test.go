package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

const customYAML = `
id: custom_fast
name: Custom fast
version: "2.0"
steps:
  - id: only
    handler: trace
    critical: true
`

func writeDefinition(t *testing.T, dir, tier, file, content string) string {
	t.Helper()
	p := filepath.Join(dir, tier, file)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoader_Builtins(t *testing.T) {
	ld := NewLoader("", WithLoaderLogger(logging.Nop()))

	assert.Equal(t, []string{"fast/default", "hybrid/default", "minimal/default", "thorough/default"}, ld.List())

	tests := []struct {
		tier, id string
		steps    int
	}{
		{"fast", "fast_default", 5},
		{"thorough", "thorough_default", 7},
		{"hybrid", "hybrid_default", 8},
		{"minimal", "minimal_default", 3},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			def, err := ld.Load(tt.tier, "default")
			require.NoError(t, err)
			assert.Equal(t, tt.id, def.ID)
			assert.Equal(t, tt.tier, def.Tier)
			assert.Len(t, def.Steps, tt.steps)
		})
	}
}

func TestLoader_BuiltinConditionsCompile(t *testing.T) {
	def, err := NewLoader("", WithLoaderLogger(logging.Nop())).Load("hybrid", "default")
	require.NoError(t, err)

	upgrade := def.Steps[def.StepIndex("upgrade")]
	require.NotNil(t, upgrade.cond)
	assert.Equal(t, RefFlag, upgrade.cond.Kind)
	assert.Equal(t, "needs_upgrade", upgrade.cond.Key)
	assert.Equal(t, 120*time.Second, upgrade.Timeout.Std())
	assert.Equal(t, []string{"fast/default"}, def.ErrorHandling.FallbackPipelines)
}

func TestLoader_CachesDefinitions(t *testing.T) {
	ld := NewLoader("", WithLoaderLogger(logging.Nop()))

	first, err := ld.Load("fast", "default")
	require.NoError(t, err)
	second, err := ld.Load("fast", "default")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, ld.Cached())

	ld.Invalidate("fast", "default")
	assert.Equal(t, 0, ld.Cached())
	third, err := ld.Load("fast", "default")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestLoader_DirectoryOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "fast", "default.yaml", customYAML)
	writeDefinition(t, dir, "experimental", "canary.json", `{"id":"canary","name":"Canary","steps":[{"id":"a","handler":"trace"}]}`)

	ld := NewLoader(dir, WithLoaderLogger(logging.Nop()))

	def, err := ld.Load("fast", "default")
	require.NoError(t, err)
	assert.Equal(t, "custom_fast", def.ID)
	assert.Equal(t, "fast", def.Tier)

	assert.Contains(t, ld.List(), "experimental/canary")
	assert.Contains(t, ld.List(), "thorough/default")
}

func TestLoader_NotFound(t *testing.T) {
	ld := NewLoader("", WithLoaderLogger(logging.Nop()))

	_, err := ld.Load("fast", "nope")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "fast/default")

	_, err = ld.Load("../etc", "passwd")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestLoader_RejectsInvalidDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "fast", "dup.yaml", `
id: dup
name: Dup
steps:
  - {id: a, handler: trace}
  - {id: a, handler: trace}
`)
	writeDefinition(t, dir, "fast", "unknown.yaml", `
id: unknown
name: Unknown
colour: blue
steps:
  - {id: a, handler: trace}
`)
	writeDefinition(t, dir, "fast", "handler.yaml", `
id: handler
name: Handler
steps:
  - {id: a, handler: nonexistent}
`)

	ld := NewLoader(dir, WithLoaderLogger(logging.Nop()), WithRegistry(newTestRegistry(t)))

	var verr *ValidationError
	_, err := ld.Load("fast", "dup")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "duplicate step id")

	_, err = ld.Load("fast", "unknown")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "colour")

	_, err = ld.Load("fast", "handler")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), `unknown handler "nonexistent"`)

	assert.Equal(t, 0, ld.Cached())
}

func TestLoader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	p := writeDefinition(t, dir, "x", "custom.yaml", customYAML)

	ld := NewLoader("", WithLoaderLogger(logging.Nop()))
	def, err := ld.LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "custom_fast", def.ID)
	assert.Equal(t, 0, ld.Cached())

	_, err = ld.LoadFile(filepath.Join(dir, "x", "custom.txt"))
	assert.Error(t, err)
}

func TestLoader_CustomBuiltin(t *testing.T) {
	fsys := fstest.MapFS{
		"solo/one.yaml": {Data: []byte(customYAML)},
	}
	ld := NewLoader("", WithLoaderLogger(logging.Nop()), WithBuiltin(fsys))

	assert.Equal(t, []string{"solo/one"}, ld.List())
	def, err := ld.Load("solo", "one")
	require.NoError(t, err)
	assert.Equal(t, "solo", def.Tier)

	none := NewLoader("", WithLoaderLogger(logging.Nop()), WithBuiltin(nil))
	assert.Empty(t, none.List())
}

func TestLoader_WatchInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	p := writeDefinition(t, dir, "fast", "default.yaml", customYAML)

	ld := NewLoader(dir, WithLoaderLogger(logging.Nop()))
	_, err := ld.Load("fast", "default")
	require.NoError(t, err)
	require.Equal(t, 1, ld.Cached())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ld.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// the watcher registers asynchronously; keep touching the file until the
	// event lands
	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte(customYAML), 0o644)
		return ld.Cached() == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLoader_WatchWithoutDirectory(t *testing.T) {
	err := NewLoader("", WithLoaderLogger(logging.Nop())).Watch(context.Background())
	assert.Error(t, err)
}
