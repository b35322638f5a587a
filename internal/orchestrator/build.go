package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RichLycus/ProjekUtama-sub000/internal/cache"
	"github.com/RichLycus/ProjekUtama-sub000/internal/config"
	"github.com/RichLycus/ProjekUtama-sub000/internal/data"
	"github.com/RichLycus/ProjekUtama-sub000/internal/handlers"
	"github.com/RichLycus/ProjekUtama-sub000/internal/llm"
	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
	"github.com/RichLycus/ProjekUtama-sub000/internal/metrics"
	"github.com/RichLycus/ProjekUtama-sub000/internal/router"
	"github.com/RichLycus/ProjekUtama-sub000/internal/session"
)

// FromConfig builds an orchestrator from loaded configuration. Extra options
// are applied after the configured ones, so tests can swap the generator.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	rt, err := NewRouter(cfg)
	if err != nil {
		return nil, err
	}

	rc, err := OpenCache(ctx, cfg)
	if err != nil {
		return nil, err
	}

	retriever, err := LoadDocuments(cfg.Retrieval.Documents)
	if err != nil {
		rc.Close()
		return nil, err
	}

	collector, closeMetrics, err := OpenMetrics(ctx, cfg)
	if err != nil {
		rc.Close()
		return nil, err
	}

	routes := make(map[router.Mode]string, len(cfg.Pipelines.Routes))
	for m, ref := range cfg.Pipelines.Routes {
		routes[router.Mode(m)] = ref
	}

	base := []Option{
		WithRouter(rt),
		WithCache(rc),
		WithGenerator(NewGenerator(cfg)),
		WithRoutes(routes),
		WithPipelineDir(cfg.Pipelines.Dir),
		WithMaxFallbackDepth(cfg.Pipelines.MaxFallbackDepth),
		WithWatch(cfg.Pipelines.Watch),
		WithCleanupInterval(cfg.Cache.CleanupInterval),
		WithMetrics(collector),
		withCloser(closeMetrics),
	}
	if retriever != nil {
		base = append(base, WithRetriever(retriever))
	}

	o, err := New(append(base, opts...)...)
	if err != nil {
		rc.Close()
		closeMetrics()
		return nil, err
	}
	return o, nil
}

// NewRouter builds a router from the intent, complexity, context, selector
// and session sections.
func NewRouter(cfg *config.Config) (*router.Router, error) {
	intent, err := router.NewIntentClassifier(cfg.Intent)
	if err != nil {
		return nil, fmt.Errorf("intent classifier: %w", err)
	}
	complexity, err := router.NewComplexityAnalyzer(cfg.Complexity)
	if err != nil {
		return nil, fmt.Errorf("complexity analyzer: %w", err)
	}
	selector, err := router.NewModeSelector(cfg.Selector)
	if err != nil {
		return nil, fmt.Errorf("mode selector: %w", err)
	}
	return router.New(
		router.WithIntentClassifier(intent),
		router.WithComplexityAnalyzer(complexity),
		router.WithContextScorer(router.NewContextScorer(cfg.Context)),
		router.WithModeSelector(selector),
		router.WithTracker(session.NewTracker(session.WithMaxHistory(cfg.Session.MaxHistory))),
	), nil
}

// OpenCache opens the configured cache backend.
func OpenCache(ctx context.Context, cfg *config.Config) (*cache.ResultCache, error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case "sqlite":
		db, err := data.NewDB(cfg.GetDataDir(), data.WithFileName(cfg.Cache.SQLiteFile))
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		store = cache.NewSQLiteStore(db)
	case "redis":
		rs, err := cache.NewRedisStore(ctx, cfg.Cache.Redis.ToCache())
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		store = rs
	default:
		store = cache.NewMemoryStore()
	}

	return cache.New(
		cache.WithStore(store),
		cache.WithConfig(cfg.Cache.ToCache()),
		cache.WithLogger(logging.Component("cache")),
	), nil
}

// OpenMetrics returns a collector persisting to the metrics database, or a
// session-only collector when metrics are disabled. Rows past the retention
// window are pruned on open. The returned func closes the database.
func OpenMetrics(ctx context.Context, cfg *config.Config) (*metrics.Collector, func() error, error) {
	log := logging.Component("metrics")
	if !cfg.Metrics.Enabled {
		return metrics.NewCollector(metrics.WithLogger(log)), func() error { return nil }, nil
	}

	db, err := data.NewDB(cfg.GetDataDir(), data.WithFileName(cfg.Metrics.File))
	if err != nil {
		return nil, nil, fmt.Errorf("open metrics database: %w", err)
	}
	store := metrics.NewStore(db)
	if days := cfg.Metrics.RetentionDays; days > 0 {
		n, err := store.Prune(ctx, time.Now().AddDate(0, 0, -days))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to prune request metrics")
		} else if n > 0 {
			log.Debug().Int64("removed", n).Msg("Old request metrics pruned")
		}
	}
	return metrics.NewCollector(metrics.WithStore(store), metrics.WithLogger(log)), db.Close, nil
}

// NewGenerator returns the Ollama generator, rate limited when any limit is
// configured.
func NewGenerator(cfg *config.Config) llm.Generator {
	var opts []llm.OllamaOption
	if t := cfg.LLM.Timeouts; t.ConnectionTimeout > 0 || t.ResponseHeaderTimeout > 0 {
		tc := llm.DefaultTimeoutConfig()
		if t.ConnectionTimeout > 0 {
			tc.ConnectionTimeout = t.ConnectionTimeout
		}
		if t.ResponseHeaderTimeout > 0 {
			tc.ResponseHeaderTimeout = t.ResponseHeaderTimeout
		}
		opts = append(opts, llm.WithTimeoutConfig(tc))
	}
	ollamaCfg := cfg.LLM.Ollama
	gen := llm.NewOllamaGenerator(&ollamaCfg, opts...)

	limits := cfg.LLM.Limits
	if limits.RequestsPerMinute == 0 && limits.ConcurrentRequests == 0 {
		return gen
	}
	return llm.NewLimitedGenerator(gen, limits)
}

// LoadDocuments reads a YAML or JSON list of documents into a static
// retriever. An empty path returns nil.
func LoadDocuments(path string) (handlers.Retriever, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	var docs []handlers.Document
	if err := yaml.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parse documents %s: %w", path, err)
	}
	for i, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("parse documents %s: document %d has no id", path, i)
		}
	}
	return handlers.NewStaticRetriever(docs...), nil
}
