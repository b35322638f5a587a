// Package orchestrator wires the router, the pipeline engine and the result
// cache into one request path: text goes in, a mode is decided, the mode's
// pipeline runs, and a user-facing response comes out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/RichLycus/ProjekUtama-sub000/internal/cache"
	"github.com/RichLycus/ProjekUtama-sub000/internal/handlers"
	"github.com/RichLycus/ProjekUtama-sub000/internal/llm"
	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
	"github.com/RichLycus/ProjekUtama-sub000/internal/metrics"
	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
	"github.com/RichLycus/ProjekUtama-sub000/internal/router"
)

// ErrEmptyInput is returned in Result.Error for blank requests.
var ErrEmptyInput = errors.New("empty input")

// FlowError describes a pipeline run that did not yield a usable answer.
type FlowError struct {
	Pipeline string
	Status   pipeline.FlowStatus
	Cause    string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("pipeline %s %s: %s", e.Pipeline, e.Status, e.Cause)
}

// DefaultRoutes maps each mode to its built-in pipeline.
func DefaultRoutes() map[router.Mode]string {
	return map[router.Mode]string{
		router.ModeFast:     "fast/default",
		router.ModeThorough: "thorough/default",
		router.ModeHybrid:   "hybrid/default",
		router.ModeDepends:  "hybrid/default",
	}
}

// Request is one unit of work.
type Request struct {
	Text      string
	SessionID string
	Persona   string
	// Pipeline, when set, replaces the mode's route. The router still runs so
	// the decision and session history stay accurate.
	Pipeline string
}

// Result is what callers show the user.
type Result struct {
	// Success is true when the pipeline produced a real answer. Recovered
	// runs that answered with the fallback message are not successes.
	Success  bool
	Response string
	Pipeline string
	Decision *router.ModeDecision
	Context  *pipeline.ExecutionContext
	Error    error
	Duration time.Duration
}

// Orchestrator is the composition root. It is safe for concurrent use.
type Orchestrator struct {
	router    *router.Router
	registry  *pipeline.Registry
	loader    *pipeline.Loader
	executor  *pipeline.Executor
	cache     *cache.ResultCache
	generator llm.Generator
	retriever handlers.Retriever
	metrics   *metrics.Collector

	routes          map[router.Mode]string
	pipelineDir     string
	fallbackDepth   int
	watch           bool
	cleanupInterval time.Duration
	tracer          trace.TracerProvider
	log             zerolog.Logger

	cancel    context.CancelFunc
	bg        *errgroup.Group
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRouter replaces the default router.
func WithRouter(r *router.Router) Option {
	return func(o *Orchestrator) { o.router = r }
}

// WithCache sets the result cache. Without one, cache steps miss or skip.
func WithCache(c *cache.ResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithGenerator sets the generation backend.
func WithGenerator(g llm.Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithRetriever sets the document retriever.
func WithRetriever(r handlers.Retriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// WithMetrics records every handled request.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithRoutes overrides individual mode routes; modes left out keep the
// default route.
func WithRoutes(routes map[router.Mode]string) Option {
	return func(o *Orchestrator) {
		for m, ref := range routes {
			o.routes[m] = ref
		}
	}
}

// WithPipelineDir sets the directory searched before the built-in pipelines.
func WithPipelineDir(dir string) Option {
	return func(o *Orchestrator) { o.pipelineDir = dir }
}

// WithMaxFallbackDepth bounds fallback pipeline chaining.
func WithMaxFallbackDepth(n int) Option {
	return func(o *Orchestrator) { o.fallbackDepth = n }
}

// WithWatch reloads pipeline definitions when files in the pipeline
// directory change.
func WithWatch(enabled bool) Option {
	return func(o *Orchestrator) { o.watch = enabled }
}

// WithCleanupInterval periodically drops expired cache entries.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.cleanupInterval = d }
}

// WithTracerProvider traces pipeline runs.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp }
}

// WithLogger sets the logger shared by the orchestrator's components.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// withCloser registers a resource released by Close after the cache.
func withCloser(fn func() error) Option {
	return func(o *Orchestrator) { o.closers = append(o.closers, fn) }
}

// New builds an orchestrator. Background work (pipeline watching, cache
// cleanup) starts here and stops in Close.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		routes:        DefaultRoutes(),
		fallbackDepth: pipeline.DefaultMaxFallbackDepth,
		log:           logging.Component("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.router == nil {
		o.router = router.New(router.WithLogger(o.log.With().Str("component", "router").Logger()))
	}

	o.registry = pipeline.NewRegistry(pipeline.WithRegistryLogger(o.log.With().Str("component", "registry").Logger()))
	if err := handlers.Register(o.registry, handlers.Deps{
		Cache:     o.cache,
		Generator: o.generator,
		Retriever: o.retriever,
	}); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	o.loader = pipeline.NewLoader(o.pipelineDir,
		pipeline.WithRegistry(o.registry),
		pipeline.WithLoaderLogger(o.log.With().Str("component", "loader").Logger()),
	)

	execOpts := []pipeline.ExecutorOption{
		pipeline.WithDefinitionSource(o.loader),
		pipeline.WithMaxFallbackDepth(o.fallbackDepth),
		pipeline.WithExecutorLogger(o.log.With().Str("component", "executor").Logger()),
	}
	if o.tracer != nil {
		execOpts = append(execOpts, pipeline.WithTracerProvider(o.tracer))
	}
	o.executor = pipeline.NewExecutor(o.registry, execOpts...)

	for m, ref := range o.routes {
		if _, _, ok := strings.Cut(ref, "/"); !ok {
			return nil, fmt.Errorf("route for mode %s: %q is not a tier/name reference", m, ref)
		}
	}

	o.start()
	return o, nil
}

func (o *Orchestrator) start() {
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.bg = &errgroup.Group{}

	if o.watch && o.pipelineDir != "" {
		o.bg.Go(func() error {
			if err := o.loader.Watch(ctx); err != nil {
				o.log.Warn().Err(err).Str("dir", o.pipelineDir).Msg("Pipeline watch stopped")
			}
			return nil
		})
	}
	if o.cache != nil && o.cleanupInterval > 0 {
		o.bg.Go(func() error {
			o.cleanupLoop(ctx)
			return nil
		})
	}
}

func (o *Orchestrator) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.cache.CleanupExpired(ctx); n > 0 {
				o.log.Debug().Int("removed", n).Msg("Expired cache entries removed")
			}
		}
	}
}

// Process routes text for a session and runs the chosen pipeline.
func (o *Orchestrator) Process(ctx context.Context, text, sessionID string) *Result {
	return o.Handle(ctx, &Request{Text: text, SessionID: sessionID})
}

// Handle runs one request. It never returns nil; failures are reported in
// Result.Error with Response set to the fallback message.
func (o *Orchestrator) Handle(ctx context.Context, req *Request) *Result {
	start := time.Now()
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return &Result{
			Response: handlers.DefaultFallbackMessage,
			Error:    ErrEmptyInput,
		}
	}

	decision := o.router.Route(req.Text, req.SessionID)
	ref := req.Pipeline
	if ref == "" {
		ref = o.RouteFor(decision.Mode)
	}

	data := map[string]any{handlers.KeyMessage: req.Text}
	if req.SessionID != "" {
		data[handlers.KeySessionID] = req.SessionID
	}
	if req.Persona != "" {
		data[handlers.KeyPersona] = req.Persona
	}

	ec := o.executor.RunRef(ctx, ref, pipeline.NewExecutionContext(data))

	res := &Result{
		Pipeline: ref,
		Decision: decision,
		Context:  ec,
		Duration: time.Since(start),
	}
	o.finish(res)
	o.record(ctx, res)

	ev := o.log.Info()
	if !res.Success {
		ev = o.log.Warn().Err(res.Error)
	}
	ev.Str("mode", string(decision.Mode)).
		Str("pipeline", ref).
		Str("status", string(ec.Metadata.Status)).
		Dur("duration", res.Duration).
		Msg("Request processed")
	return res
}

func (o *Orchestrator) finish(res *Result) {
	ec := res.Context
	status := ec.Metadata.Status
	output := strings.TrimSpace(ec.GetString(handlers.KeyOutput))
	fallback, _ := ec.Data[handlers.KeyFallback].(bool)

	ok := status == pipeline.FlowCompleted || status == pipeline.FlowRecovered
	if ok && output != "" && !fallback {
		res.Success = true
		res.Response = output
		return
	}

	res.Response = handlers.DefaultFallbackMessage
	if fallback && output != "" {
		res.Response = output
	}

	cause := "pipeline produced no output"
	if n := len(ec.Metadata.Errors); n > 0 {
		cause = ec.Metadata.Errors[n-1].Message
	}
	res.Error = &FlowError{Pipeline: res.Pipeline, Status: status, Cause: cause}
}

func (o *Orchestrator) record(ctx context.Context, res *Result) {
	if o.metrics == nil {
		return
	}
	ec := res.Context
	m := &metrics.RequestMetric{
		Mode:     string(res.Decision.Mode),
		Pipeline: res.Pipeline,
		FlowID:   ec.Metadata.FlowID,
		Status:   string(ec.Metadata.Status),
		Latency:  res.Duration,
		Success:  res.Success,
		CacheHit: ec.Flag(handlers.FlagCacheHit),
	}
	m.Fallback, _ = ec.Data[handlers.KeyFallback].(bool)
	if gen, ok := ec.Data[handlers.KeyGeneration].(map[string]any); ok {
		m.Model, _ = gen["model"].(string)
	}
	if res.Error != nil {
		m.Error = res.Error.Error()
	}
	o.metrics.Record(context.WithoutCancel(ctx), m)
}

// RouteFor returns the pipeline reference for a mode. Unknown modes use the
// hybrid route.
func (o *Orchestrator) RouteFor(m router.Mode) string {
	if ref, ok := o.routes[m]; ok {
		return ref
	}
	return o.routes[router.ModeHybrid]
}

// Router returns the router.
func (o *Orchestrator) Router() *router.Router { return o.router }

// Registry returns the handler registry.
func (o *Orchestrator) Registry() *pipeline.Registry { return o.registry }

// Loader returns the pipeline loader.
func (o *Orchestrator) Loader() *pipeline.Loader { return o.loader }

// Executor returns the pipeline executor.
func (o *Orchestrator) Executor() *pipeline.Executor { return o.executor }

// Cache returns the result cache, or nil.
func (o *Orchestrator) Cache() *cache.ResultCache { return o.cache }

// Metrics returns the request metrics collector, or nil.
func (o *Orchestrator) Metrics() *metrics.Collector { return o.metrics }

// Stats is a snapshot across components.
type Stats struct {
	Router    router.RouterStats    `json:"router"`
	Cache     *cache.Stats          `json:"cache,omitempty"`
	Generator *llm.LimitMetrics     `json:"generator,omitempty"`
	Session   *metrics.SessionStats `json:"session,omitempty"`
	Pipelines int                   `json:"pipelines_cached"`
}

// Stats gathers statistics from every component.
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	s := Stats{
		Router:    o.router.Stats(),
		Pipelines: o.loader.Cached(),
	}
	if o.cache != nil {
		cs := o.cache.GetStats(ctx)
		s.Cache = &cs
	}
	if lg, ok := o.generator.(*llm.LimitedGenerator); ok {
		m := lg.Metrics()
		s.Generator = &m
	}
	if o.metrics != nil {
		ss := o.metrics.Session()
		s.Session = &ss
	}
	return s
}

// Close stops background work and releases the cache backend. It is safe to
// call more than once.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.cancel()
		_ = o.bg.Wait()

		var errs []error
		if o.cache != nil {
			errs = append(errs, o.cache.Close())
		}
		for _, fn := range o.closers {
			errs = append(errs, fn())
		}
		o.closeErr = errors.Join(errs...)
	})
	return o.closeErr
}
