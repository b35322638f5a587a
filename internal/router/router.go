package router

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
	"github.com/RichLycus/ProjekUtama-sub000/internal/session"
)

// Router runs the full classification stage: intent and complexity are
// scored independently, context is scored against the session history, and
// the ModeSelector fuses them.
type Router struct {
	intent     *IntentClassifier
	complexity *ComplexityAnalyzer
	context    *ContextScorer
	selector   *ModeSelector
	tracker    *session.Tracker
	log        zerolog.Logger
	now        func() time.Time

	// Statistics (thread-safe)
	stats RouterStats
	mu    sync.RWMutex
}

// Option is a functional option for configuring Router.
type Option func(*Router)

// WithIntentClassifier replaces the default classifier.
func WithIntentClassifier(c *IntentClassifier) Option {
	return func(r *Router) { r.intent = c }
}

// WithComplexityAnalyzer replaces the default analyzer.
func WithComplexityAnalyzer(a *ComplexityAnalyzer) Option {
	return func(r *Router) { r.complexity = a }
}

// WithContextScorer replaces the default context scorer.
func WithContextScorer(s *ContextScorer) Option {
	return func(r *Router) { r.context = s }
}

// WithModeSelector replaces the default selector.
func WithModeSelector(s *ModeSelector) Option {
	return func(r *Router) { r.selector = s }
}

// WithTracker shares a session tracker with other components.
func WithTracker(t *session.Tracker) Option {
	return func(r *Router) { r.tracker = t }
}

// WithLogger sets the router logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithClock sets the time source used for decision timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a Router with default components.
func New(opts ...Option) *Router {
	r := &Router{
		log: logging.Component("router"),
		now: time.Now,
		stats: RouterStats{
			ModeDistribution:   make(map[Mode]int64),
			IntentDistribution: make(map[Intent]int64),
			OverrideCounts:     make(map[string]int64),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.intent == nil {
		r.intent = MustNewIntentClassifier(DefaultIntentConfig())
	}
	if r.complexity == nil {
		r.complexity = MustNewComplexityAnalyzer(DefaultComplexityConfig())
	}
	if r.context == nil {
		r.context = NewContextScorer(DefaultContextConfig())
	}
	if r.selector == nil {
		r.selector = MustNewModeSelector(DefaultSelectorConfig())
	}
	if r.tracker == nil {
		r.tracker = session.NewTracker()
	}
	return r
}

// Tracker returns the session tracker used by the router.
func (r *Router) Tracker() *session.Tracker {
	return r.tracker
}

// Route classifies text and returns the decision. When sessionID is set the
// text is appended to that session after context has been scored, so a
// request never counts as its own history.
func (r *Router) Route(text, sessionID string) *ModeDecision {
	start := r.now()

	intent := r.intent.Classify(text)
	complexity := r.complexity.Analyze(text)
	ctx := r.context.Score(text, sessionID, r.tracker)

	decision := r.selector.Select(intent, complexity, ctx)
	decision.DecidedAt = r.now()
	decision.Duration = decision.DecidedAt.Sub(start)

	if sessionID != "" {
		r.tracker.AddQuery(sessionID, text)
	}

	r.record(decision)

	r.log.Debug().
		Str("session", sessionID).
		Str("intent", string(intent.Intent)).
		Float64("complexity", complexity.OverallScore).
		Float64("context", ctx.Score).
		Str("mode", string(decision.Mode)).
		Float64("confidence", decision.Confidence).
		Strs("overrides", decision.Overrides).
		Msg("Routed request")

	return decision
}

// Classify exposes the intent classifier.
func (r *Router) Classify(text string) *IntentResult {
	return r.intent.Classify(text)
}

// Analyze exposes the complexity analyzer.
func (r *Router) Analyze(text string) *ComplexityResult {
	return r.complexity.Analyze(text)
}

func (r *Router) record(d *ModeDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalRequests++
	r.stats.ModeDistribution[d.Mode]++
	if d.Intent != nil {
		r.stats.IntentDistribution[d.Intent.Intent]++
	}
	for _, o := range d.Overrides {
		r.stats.OverrideCounts[o]++
		if o == OverrideHybridEscalation {
			r.stats.HybridEscalations++
		}
	}
	// Update running average confidence
	total := float64(r.stats.TotalRequests)
	r.stats.AverageConfidence = (r.stats.AverageConfidence*(total-1) + d.Confidence) / total
}

// Stats returns a copy of the current routing statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := RouterStats{
		TotalRequests:      r.stats.TotalRequests,
		HybridEscalations:  r.stats.HybridEscalations,
		AverageConfidence:  r.stats.AverageConfidence,
		ModeDistribution:   make(map[Mode]int64, len(r.stats.ModeDistribution)),
		IntentDistribution: make(map[Intent]int64, len(r.stats.IntentDistribution)),
		OverrideCounts:     make(map[string]int64, len(r.stats.OverrideCounts)),
	}
	for k, v := range r.stats.ModeDistribution {
		out.ModeDistribution[k] = v
	}
	for k, v := range r.stats.IntentDistribution {
		out.IntentDistribution[k] = v
	}
	for k, v := range r.stats.OverrideCounts {
		out.OverrideCounts[k] = v
	}
	return out
}

// ResetStats resets all routing statistics.
func (r *Router) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats = RouterStats{
		ModeDistribution:   make(map[Mode]int64),
		IntentDistribution: make(map[Intent]int64),
		OverrideCounts:     make(map[string]int64),
	}
}
