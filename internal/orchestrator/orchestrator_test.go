package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RichLycus/ProjekUtama-sub000/internal/cache"
	"github.com/RichLycus/ProjekUtama-sub000/internal/config"
	"github.com/RichLycus/ProjekUtama-sub000/internal/handlers"
	"github.com/RichLycus/ProjekUtama-sub000/internal/llm"
	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
	"github.com/RichLycus/ProjekUtama-sub000/internal/metrics"
	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
	"github.com/RichLycus/ProjekUtama-sub000/internal/router"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type echoGenerator struct {
	mu     sync.Mutex
	err    error
	models []string
}

func (g *echoGenerator) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.models = append(g.models, req.Model)
	if g.err != nil {
		return nil, g.err
	}
	return &llm.GenerateResult{
		Success:  true,
		Text:     "A complete answer for: " + req.Prompt,
		Metadata: map[string]any{"model": req.Model, "completion_tokens": 5},
	}, nil
}

func (g *echoGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.models...)
}

func newTestOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{WithLogger(logging.Nop())}
	o, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func memoryCache(t *testing.T) *cache.ResultCache {
	t.Helper()
	return cache.New(cache.WithLogger(logging.Nop()))
}

func TestProcess_GreetingTakesFastPipeline(t *testing.T) {
	gen := &echoGenerator{}
	o := newTestOrchestrator(t, WithGenerator(gen), WithCache(memoryCache(t)))

	res := o.Process(context.Background(), "Hi!", "")

	require.NoError(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, router.ModeFast, res.Decision.Mode)
	assert.Equal(t, "fast/default", res.Pipeline)
	assert.Equal(t, "fast_default", res.Context.Metadata.FlowID)
	assert.Equal(t, "A complete answer for: Hi!", res.Response)
	assert.Equal(t, []string{"llama3.2:3b"}, gen.calls())
}

func TestProcess_CreativeTakesThoroughPipeline(t *testing.T) {
	gen := &echoGenerator{}
	docs := handlers.NewStaticRetriever(handlers.Document{ID: "sea", Content: "The sea is a poem of waves."})
	o := newTestOrchestrator(t, WithGenerator(gen), WithRetriever(docs))

	res := o.Process(context.Background(), "Write a short poem about the sea", "")

	require.NoError(t, res.Error)
	assert.Equal(t, router.ModeThorough, res.Decision.Mode)
	assert.Equal(t, "thorough/default", res.Pipeline)
	assert.Contains(t, res.Response, "Sources:\n- sea")
	assert.Equal(t, []string{"llama3.1:8b"}, gen.calls())
}

func TestProcess_RepeatedQuestionIsServedFromCache(t *testing.T) {
	gen := &echoGenerator{}
	rc := memoryCache(t)
	o := newTestOrchestrator(t, WithGenerator(gen), WithCache(rc))
	ctx := context.Background()

	first := o.Process(ctx, "Hi!", "")
	second := o.Process(ctx, "  hi! ", "")

	require.True(t, second.Success)
	assert.True(t, second.Context.Flag(handlers.FlagCacheHit))
	assert.Equal(t, first.Response, second.Response)
	assert.Len(t, gen.calls(), 1)

	stats := o.Stats(ctx)
	require.NotNil(t, stats.Cache)
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, int64(2), stats.Router.TotalRequests)
}

func TestProcess_BackendDownReturnsFallbackMessage(t *testing.T) {
	gen := &echoGenerator{err: errors.New("connection refused")}
	o := newTestOrchestrator(t, WithGenerator(gen))

	res := o.Process(context.Background(), "Hi!", "")

	assert.False(t, res.Success)
	assert.Equal(t, handlers.DefaultFallbackMessage, res.Response)

	var fe *FlowError
	require.ErrorAs(t, res.Error, &fe)
	assert.Equal(t, pipeline.FlowRecovered, fe.Status)
	assert.Equal(t, "fast/default", fe.Pipeline)
	assert.Contains(t, fe.Cause, "connection refused")
}

func TestProcess_EmptyInput(t *testing.T) {
	o := newTestOrchestrator(t, WithGenerator(&echoGenerator{}))

	res := o.Process(context.Background(), "   ", "s1")

	assert.ErrorIs(t, res.Error, ErrEmptyInput)
	assert.Equal(t, handlers.DefaultFallbackMessage, res.Response)
	assert.Nil(t, res.Decision)
	assert.Zero(t, o.Router().Tracker().Len("s1"), "blank input is not recorded")
}

func TestProcess_RecordsSessionHistory(t *testing.T) {
	o := newTestOrchestrator(t, WithGenerator(&echoGenerator{}))
	ctx := context.Background()

	o.Process(ctx, "Hi!", "s1")
	res := o.Process(ctx, "Hi!", "s1")

	assert.Equal(t, 1, res.Decision.Context.SessionLength)
	assert.Equal(t, 2, o.Router().Tracker().Len("s1"))
	assert.Equal(t, "s1", res.Context.GetString(handlers.KeySessionID))
}

func TestHandle_PipelineOverride(t *testing.T) {
	gen := &echoGenerator{}
	o := newTestOrchestrator(t, WithGenerator(gen))

	res := o.Handle(context.Background(), &Request{
		Text:     "Write a short poem about the sea",
		Persona:  "poet",
		Pipeline: "minimal/default",
	})

	require.NoError(t, res.Error)
	assert.Equal(t, router.ModeThorough, res.Decision.Mode, "the decision is still reported")
	assert.Equal(t, "minimal_default", res.Context.Metadata.FlowID)
	assert.Equal(t, "poet", res.Context.GetString(handlers.KeyPersona))
}

func TestHandle_UnknownPipeline(t *testing.T) {
	o := newTestOrchestrator(t, WithGenerator(&echoGenerator{}))

	res := o.Handle(context.Background(), &Request{Text: "Hi!", Pipeline: "fast/nope"})

	assert.False(t, res.Success)
	assert.Equal(t, handlers.DefaultFallbackMessage, res.Response)
	var fe *FlowError
	require.ErrorAs(t, res.Error, &fe)
	assert.Equal(t, pipeline.FlowFatal, fe.Status)
}

func TestRoutes(t *testing.T) {
	o := newTestOrchestrator(t,
		WithGenerator(&echoGenerator{}),
		WithRoutes(map[router.Mode]string{router.ModeFast: "minimal/default"}),
	)

	assert.Equal(t, "minimal/default", o.RouteFor(router.ModeFast))
	assert.Equal(t, "thorough/default", o.RouteFor(router.ModeThorough))
	assert.Equal(t, "hybrid/default", o.RouteFor(router.Mode("other")))

	res := o.Process(context.Background(), "Hi!", "")
	assert.Equal(t, "minimal_default", res.Context.Metadata.FlowID)

	_, err := New(WithLogger(logging.Nop()), WithRoutes(map[router.Mode]string{router.ModeFast: "fast"}))
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	o, err := New(
		WithLogger(logging.Nop()),
		WithCache(memoryCache(t)),
		WithCleanupInterval(time.Millisecond),
		WithPipelineDir(t.TempDir()),
		WithWatch(true),
	)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	assert.NoError(t, o.Close())
	assert.NoError(t, o.Close())
}

func TestHandle_RecordsMetrics(t *testing.T) {
	collector := metrics.NewCollector(metrics.WithLogger(logging.Nop()))
	gen := &echoGenerator{}
	o := newTestOrchestrator(t, WithGenerator(gen), WithCache(memoryCache(t)), WithMetrics(collector))
	ctx := context.Background()

	o.Process(ctx, "Hi!", "")
	o.Process(ctx, "hi!", "")
	gen.err = errors.New("connection refused")
	o.Process(ctx, "Write a short poem about the sea", "")
	o.Process(ctx, "   ", "")

	s := collector.Session()
	assert.Equal(t, 3, s.Requests, "blank input is not recorded")
	assert.Equal(t, 2, s.Successes)
	assert.Equal(t, 1, s.CacheHits)
	assert.Equal(t, map[string]int{"fast": 2, "thorough": 1}, s.ByMode)

	recent := collector.Recent(3)
	assert.Equal(t, "fast_default", recent[0].FlowID)
	assert.Equal(t, "llama3.2:3b", recent[0].Model)
	assert.True(t, recent[1].CacheHit)
	assert.False(t, recent[2].Success)
	assert.NotEmpty(t, recent[2].Error)

	stats := o.Stats(ctx)
	require.NotNil(t, stats.Session)
	assert.Equal(t, 3, stats.Session.Requests)
}

func TestFromConfig_SQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Pipelines.Dir = filepath.Join(dir, "pipelines")
	cfg.Cache.Backend = "sqlite"

	gen := &echoGenerator{}
	o, err := FromConfig(context.Background(), cfg, WithGenerator(gen), WithLogger(logging.Nop()))
	require.NoError(t, err)
	defer o.Close()

	res := o.Process(context.Background(), "Hi!", "")
	require.True(t, res.Success, "%v", res.Error)

	stats := o.Stats(context.Background())
	require.NotNil(t, stats.Cache)
	assert.Equal(t, "sqlite", stats.Cache.Backend)
	assert.Equal(t, 1, stats.Cache.TotalEntries)
	assert.FileExists(t, filepath.Join(dir, cfg.Cache.SQLiteFile))

	require.NotNil(t, stats.Session)
	assert.Equal(t, 1, stats.Session.Requests)
	assert.FileExists(t, filepath.Join(dir, cfg.Metrics.File))

	recent, err := o.Metrics().Store().Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fast", recent[0].Mode)
	assert.Equal(t, "llama3.2:3b", recent[0].Model)
}

func TestFromConfig_MetricsDisabled(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Pipelines.Dir = filepath.Join(dir, "pipelines")
	cfg.Metrics.Enabled = false

	o, err := FromConfig(context.Background(), cfg, WithGenerator(&echoGenerator{}), WithLogger(logging.Nop()))
	require.NoError(t, err)
	defer o.Close()

	o.Process(context.Background(), "Hi!", "")

	require.NotNil(t, o.Metrics())
	assert.Nil(t, o.Metrics().Store())
	assert.Equal(t, 1, o.Metrics().Session().Requests)
	assert.NoFileExists(t, filepath.Join(dir, cfg.Metrics.File))
}

func TestFromConfig_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Backend = "memcached"

	_, err := FromConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewGenerator_Limits(t *testing.T) {
	cfg := config.Default()
	_, limited := NewGenerator(cfg).(*llm.LimitedGenerator)
	assert.True(t, limited)

	cfg.LLM.Limits = llm.Limits{}
	_, plain := NewGenerator(cfg).(*llm.OllamaGenerator)
	assert.True(t, plain)
}

func TestLoadDocuments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docs.yaml")
	content := `
- id: raft
  content: Raft elects a leader and replicates a log.
  metadata:
    lang: en
- id: paxos
  content: Paxos reaches consensus among acceptors.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := LoadDocuments(path)
	require.NoError(t, err)
	docs, err := r.Retrieve(context.Background(), "how does raft elect a leader", 5, map[string]any{"lang": "en"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "raft", docs[0].ID)

	none, err := LoadDocuments("")
	assert.NoError(t, err)
	assert.Nil(t, none)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"content": "no id"}]`), 0o644))
	_, err = LoadDocuments(bad)
	assert.Error(t, err)
}
