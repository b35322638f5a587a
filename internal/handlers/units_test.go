package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

func runHandler(t *testing.T, f pipeline.Factory, cfg map[string]any, ec *pipeline.ExecutionContext) error {
	t.Helper()
	h, err := f(cfg)
	require.NoError(t, err)
	return h.Run(context.Background(), ec)
}

func TestPreprocess(t *testing.T) {
	ec := pipeline.NewExecutionContext(map[string]any{KeyMessage: "\tsay   hello\n to  everyone "})
	require.NoError(t, runHandler(t, newPreprocess, nil, ec))
	assert.Equal(t, "say hello to everyone", ec.GetString(KeyQuery))

	ec = pipeline.NewExecutionContext(map[string]any{KeyMessage: "你好世界朋友"})
	require.NoError(t, runHandler(t, newPreprocess, map[string]any{"max_length": 4}, ec))
	assert.Equal(t, "你好世界", ec.GetString(KeyQuery), "truncation counts runes")

	_, err := newPreprocess(map[string]any{"max_length": 0})
	assert.Error(t, err)
	_, err = newPreprocess(map[string]any{"max_length": "many"})
	assert.Error(t, err)
}

func TestConfigNumbers(t *testing.T) {
	for _, v := range []any{3, int64(3), 3.0, "3"} {
		n, ok, err := configInt(map[string]any{"k": v}, "k")
		require.NoError(t, err, "%T", v)
		assert.True(t, ok)
		assert.Equal(t, 3, n)
	}
	_, _, err := configInt(map[string]any{"k": 3.5}, "k")
	assert.Error(t, err)
	_, ok, err := configInt(map[string]any{}, "k")
	assert.NoError(t, err)
	assert.False(t, ok)

	f, ok, err := configFloat(map[string]any{"k": int64(2)}, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.0, f)

	d, err := configDuration(map[string]any{"k": "90s"}, "k")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)
	d, err = configDuration(map[string]any{"k": 2}, "k")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
	_, err = configDuration(map[string]any{"k": true}, "k")
	assert.Error(t, err)

	b, err := configBool(map[string]any{"k": "true"}, "k")
	require.NoError(t, err)
	assert.True(t, b)
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		minLength int
		want      float64
	}{
		{"empty", "   ", 20, 0},
		{"long enough", "A perfectly reasonable answer.", 20, 1},
		{"short", "Yes, ten.", 18, 0.5},
		{"hedge", "I'm not sure, but it is probably fine to do that.", 20, 0.6},
		{"short hedge", "As an AI", 16, 0.1},
		{"no minimum", "ok", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.response, tt.minLength), 1e-9)
		})
	}
}

func TestQualityCheck_Threshold(t *testing.T) {
	ec := pipeline.NewExecutionContext(map[string]any{KeyResponse: "Yes, ten."})
	require.NoError(t, runHandler(t, newQualityCheck, map[string]any{"min_length": 18, "threshold": 0.4}, ec))
	assert.False(t, ec.Flag(FlagNeedsUpgrade))
	assert.InDelta(t, 0.5, ec.Data[KeyQualityScore], 1e-9)

	_, err := newQualityCheck(map[string]any{"threshold": 2})
	assert.Error(t, err)
}

func TestStaticRetriever(t *testing.T) {
	r := NewStaticRetriever(
		Document{ID: "b", Content: "redis cache eviction", Metadata: map[string]any{"lang": "en"}},
		Document{ID: "a", Content: "cache eviction policies", Metadata: map[string]any{"lang": "en"}},
		Document{ID: "c", Content: "cache", Metadata: map[string]any{"lang": "id"}},
		Document{ID: "d", Content: "unrelated text"},
	)
	ctx := context.Background()

	docs, err := r.Retrieve(ctx, "cache eviction", 10, nil)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{docs[0].ID, docs[1].ID, docs[2].ID}, "ties break by id")
	assert.Equal(t, 1.0, docs[0].Score)
	assert.Equal(t, 0.5, docs[2].Score)

	docs, err = r.Retrieve(ctx, "cache eviction", 1, nil)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = r.Retrieve(ctx, "cache", 10, map[string]any{"lang": "id"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "c", docs[0].ID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.Retrieve(cancelled, "cache", 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieve_TopKFromProfile(t *testing.T) {
	var gotK int
	r := retrieverFunc(func(_ context.Context, q string, k int, _ map[string]any) ([]Document, error) {
		gotK = k
		return []Document{{ID: "x"}}, nil
	})
	ec := pipeline.NewExecutionContext(map[string]any{KeyQuery: "q"})
	ec.Config["top_k"] = 7
	require.NoError(t, runHandler(t, newRetrieve(r), nil, ec))
	assert.Equal(t, 7, gotK)

	require.NoError(t, runHandler(t, newRetrieve(r), map[string]any{"top_k": 2}, ec))
	assert.Equal(t, 2, gotK)

	delete(ec.Config, "top_k")
	require.NoError(t, runHandler(t, newRetrieve(r), nil, ec))
	assert.Equal(t, DefaultTopK, gotK)

	_, err := newRetrieve(r)(map[string]any{"filters": "lang=en"})
	assert.Error(t, err)
}

type retrieverFunc func(ctx context.Context, query string, topK int, filters map[string]any) ([]Document, error)

func (f retrieverFunc) Retrieve(ctx context.Context, query string, topK int, filters map[string]any) ([]Document, error) {
	return f(ctx, query, topK, filters)
}

func TestGenerate_RequestResolution(t *testing.T) {
	gen := &fakeGenerator{}
	ec := pipeline.NewExecutionContext(map[string]any{KeyQuery: "why is the sky blue"})
	ec.Config["model"] = "flow-model"
	ec.Config["temperature"] = 0.3
	ec.Config["max_tokens"] = 100

	require.NoError(t, runHandler(t, newGenerate(gen), nil, ec))
	require.NoError(t, runHandler(t, newGenerate(gen), map[string]any{
		"model": "step-model", "temperature": 0, "max_tokens": 10, "system": "terse",
	}, ec))

	calls := gen.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "flow-model", calls[0].Model)
	assert.Equal(t, 0.3, calls[0].Temperature)
	assert.Equal(t, 100, calls[0].MaxTokens)
	assert.Equal(t, DefaultSystemPrompt, calls[0].System)

	assert.Equal(t, "step-model", calls[1].Model)
	assert.Equal(t, 0.0, calls[1].Temperature, "an explicit zero temperature wins over the profile")
	assert.Equal(t, 10, calls[1].MaxTokens)
	assert.Equal(t, "terse", calls[1].System)

	gen2, _ := ec.Data[KeyGeneration].(map[string]any)
	assert.Equal(t, "step-model", gen2["model"])
}

func TestGenerate_Errors(t *testing.T) {
	ec := pipeline.NewExecutionContext(map[string]any{KeyQuery: "q"})
	assert.ErrorIs(t, runHandler(t, newGenerate(nil), nil, ec), ErrNoGenerator)

	err := runHandler(t, newGenerate(&fakeGenerator{err: errBackendDown}), nil, ec)
	assert.ErrorIs(t, err, errBackendDown)
	_, set := ec.Get(KeyResponse)
	assert.False(t, set, "a failed attempt leaves no partial response")

	for _, cfg := range []map[string]any{
		{"temperature": 3},
		{"max_tokens": -1},
		{"use_documents": "sometimes"},
	} {
		_, err := newGenerate(nil)(cfg)
		assert.Error(t, err, "%v", cfg)
	}
}

func TestFormat(t *testing.T) {
	ec := pipeline.NewExecutionContext(map[string]any{
		KeyResponse:  "  The answer. ",
		KeyDocuments: []Document{{ID: "one"}, {ID: "two"}, {ID: "three"}},
	})
	require.NoError(t, runHandler(t, newFormat, map[string]any{"include_sources": true, "max_sources": 2}, ec))
	assert.Equal(t, "The answer.\n\nSources:\n- one\n- two", ec.GetString(KeyOutput))

	require.NoError(t, runHandler(t, newFormat, nil, ec))
	assert.Equal(t, "The answer.", ec.GetString(KeyOutput))

	empty := pipeline.NewExecutionContext(nil)
	assert.Error(t, runHandler(t, newFormat, nil, empty))
}

func TestCacheStore_MinQuality(t *testing.T) {
	rc := newMemoryCache(t)
	ec := pipeline.NewExecutionContext(map[string]any{
		KeyCacheKey:     "k",
		KeyResponse:     "meh",
		KeyQualityScore: 0.2,
	})
	ec.Config["tier"] = "fast"

	require.NoError(t, runHandler(t, newCacheStore(rc), map[string]any{"min_quality": 0.5}, ec))
	assert.Equal(t, 0, rc.Len(context.Background()))

	require.NoError(t, runHandler(t, newCacheStore(rc), map[string]any{"ttl": "10m"}, ec))
	assert.Equal(t, 1, rc.Len(context.Background()))
	assert.Equal(t, 1, rc.GetStats(context.Background()).ByTier["fast"])

	var got CachedAnswer
	require.True(t, rc.GetInto(context.Background(), "k", &got))
	assert.Equal(t, "meh", got.Response)

	_, err := newCacheStore(rc)(map[string]any{"ttl": "-1s"})
	assert.Error(t, err)
	missing := pipeline.NewExecutionContext(map[string]any{KeyResponse: "x"})
	assert.Error(t, runHandler(t, newCacheStore(rc), nil, missing))
}

func TestCacheLookup_TierOverride(t *testing.T) {
	ec := pipeline.NewExecutionContext(map[string]any{KeyQuery: "same text"})
	ec.Config["tier"] = "fast"

	require.NoError(t, runHandler(t, newCacheLookup(nil), nil, ec))
	fastKey := ec.GetString(KeyCacheKey)
	assert.False(t, ec.Flag(FlagCacheHit))

	require.NoError(t, runHandler(t, newCacheLookup(nil), map[string]any{"tier": "shared"}, ec))
	assert.NotEqual(t, fastKey, ec.GetString(KeyCacheKey))
}

func TestFallbackResponse(t *testing.T) {
	ec := pipeline.NewExecutionContext(nil)
	require.NoError(t, runHandler(t, newFallbackResponse, map[string]any{
		"message": "Try later.", "failed_step": "generate", "error": "boom",
	}, ec))
	assert.Equal(t, "Try later.", ec.GetString(KeyOutput))
	assert.Equal(t, "generate", ec.GetString(KeyFailedStep))
}
