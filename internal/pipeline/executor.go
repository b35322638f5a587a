package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

// DefinitionSource resolves fallback pipelines by tier and name.
type DefinitionSource interface {
	Load(tier, name string) (*Definition, error)
}

// DefaultMaxFallbackDepth limits how deeply fallback pipelines may nest.
const DefaultMaxFallbackDepth = 1

// Executor runs pipeline definitions. It holds no per-run state and is safe
// for concurrent use.
type Executor struct {
	registry         *Registry
	source           DefinitionSource
	log              zerolog.Logger
	tracer           trace.Tracer
	now              func() time.Time
	maxFallbackDepth int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDefinitionSource sets where fallback pipelines are loaded from.
func WithDefinitionSource(src DefinitionSource) ExecutorOption {
	return func(e *Executor) { e.source = src }
}

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) { e.tracer = tp.Tracer("modeflow/pipeline") }
}

// WithExecutorClock sets the time source used for step timings.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithMaxFallbackDepth limits fallback nesting. Zero disables fallbacks.
func WithMaxFallbackDepth(n int) ExecutorOption {
	return func(e *Executor) { e.maxFallbackDepth = n }
}

// NewExecutor creates an executor resolving handlers from registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:         registry,
		log:              logging.Component("executor"),
		tracer:           otel.Tracer("modeflow/pipeline"),
		now:              time.Now,
		maxFallbackDepth: DefaultMaxFallbackDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type stepOutcome struct {
	status StepStatus
	err    error
}

type stepFailure struct {
	step *Step
	err  error
}

// Run executes def against ec and always returns the context. Failures are
// recorded in ec.Metadata rather than returned. A nil ec starts a fresh one.
func (e *Executor) Run(ctx context.Context, def *Definition, ec *ExecutionContext) *ExecutionContext {
	if ec == nil {
		ec = NewExecutionContext(nil)
	}
	e.run(ctx, def, ec, 0)
	return ec
}

// RunRef loads "tier/name" from the definition source and runs it.
func (e *Executor) RunRef(ctx context.Context, ref string, ec *ExecutionContext) *ExecutionContext {
	if ec == nil {
		ec = NewExecutionContext(nil)
	}
	tier, name, _ := strings.Cut(ref, "/")
	if e.source == nil {
		e.fatal(ec, fmt.Errorf("no definition source to load %q", ref))
		return ec
	}
	def, err := e.source.Load(tier, name)
	if err != nil {
		e.fatal(ec, fmt.Errorf("load pipeline %q: %w", ref, err))
		return ec
	}
	return e.Run(ctx, def, ec)
}

func (e *Executor) fatal(ec *ExecutionContext, err error) {
	ec.Metadata.Errors = append(ec.Metadata.Errors, ErrorRecord{
		Message:  err.Error(),
		Critical: true,
		Fatal:    true,
		Time:     e.now(),
	})
	ec.Metadata.Status = FlowFatal
	if ec.Metadata.CompletedAt.IsZero() {
		ec.Metadata.CompletedAt = e.now()
	}
}

func (e *Executor) run(ctx context.Context, def *Definition, ec *ExecutionContext, depth int) {
	if def == nil {
		e.fatal(ec, errors.New("pipeline definition is nil"))
		return
	}
	if !def.prepared {
		prepared := *def
		prepared.Steps = slices.Clone(def.Steps)
		if err := Prepare(&prepared, e.log); err != nil {
			e.fatal(ec, fmt.Errorf("prepare pipeline %q: %w", def.ID, err))
			return
		}
		def = &prepared
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("pipeline.id", def.ID),
		attribute.String("pipeline.name", def.Name),
		attribute.String("pipeline.version", def.Version),
		attribute.String("pipeline.tier", def.Tier),
		attribute.String("execution.id", ec.ID),
		attribute.Int("pipeline.depth", depth),
	))
	start := e.now()

	defer func() {
		if r := recover(); r != nil {
			ec.step = ""
			e.fatal(ec, fmt.Errorf("fatal: %v", r))
			e.log.Error().
				Str("pipeline", def.ID).
				Str("execution", ec.ID).
				Interface("panic", r).
				Msg("Pipeline aborted")
		}
		ec.Metadata.TotalTime = e.now().Sub(start)
		ec.Metadata.CompletedAt = e.now()

		span.SetAttributes(
			attribute.String("pipeline.status", string(ec.Metadata.Status)),
			attribute.Int("pipeline.errors", len(ec.Metadata.Errors)),
		)
		if ec.Metadata.Status != FlowCompleted {
			span.SetStatus(codes.Error, string(ec.Metadata.Status))
		}
		span.End()

		e.log.Debug().
			Str("pipeline", def.ID).
			Str("execution", ec.ID).
			Str("status", string(ec.Metadata.Status)).
			Dur("duration", ec.Metadata.TotalTime).
			Int("errors", len(ec.Metadata.Errors)).
			Msg("Pipeline finished")
	}()

	ec.Metadata.FlowID = def.ID
	ec.Metadata.FlowName = def.Name
	ec.Metadata.FlowVersion = def.Version
	ec.Metadata.Status = FlowRunning
	if ec.Metadata.Timings == nil {
		ec.Metadata.Timings = make(map[string]time.Duration)
	}
	if ec.Config == nil {
		ec.Config = make(map[string]any)
	}
	for k, v := range def.FlatConfig() {
		ec.Config[k] = v
	}

	failure := e.runSteps(ctx, def, ec)
	if failure == nil {
		ec.Metadata.Status = FlowCompleted
		return
	}

	ec.Metadata.Status = FlowStopped
	e.log.Warn().
		Err(failure.err).
		Str("pipeline", def.ID).
		Str("step", failure.step.ID).
		Msg("Critical step failed")

	if e.runRecovery(ctx, def, ec, failure) {
		ec.Metadata.Status = FlowRecovered
		return
	}
	if depth < e.maxFallbackDepth && e.runFallbacks(ctx, def, ec, depth) {
		ec.Metadata.Status = FlowRecovered
	}
}

func (e *Executor) runSteps(ctx context.Context, def *Definition, ec *ExecutionContext) *stepFailure {
	groups := groupStarts(def)

	for i := 0; i < len(def.Steps); {
		if idxs, ok := groups[i]; ok {
			if f := e.runGroup(ctx, def, idxs, ec); f != nil {
				return f
			}
			i += len(idxs)
			continue
		}

		step := &def.Steps[i]
		out := e.runStep(ctx, def, step, ec)
		if out.err != nil {
			if step.Critical {
				return &stepFailure{step: step, err: out.err}
			}
			i++
			continue
		}

		if out.status == StepSuccess && step.OnSuccess != nil && step.OnSuccess.SkipTo != "" {
			if target := def.StepIndex(step.OnSuccess.SkipTo); target > i {
				for j := i + 1; j < target; j++ {
					e.record(ec, StepRecord{
						StepID:    def.Steps[j].ID,
						Handler:   def.Steps[j].Handler,
						Status:    StepSkipped,
						Reason:    "skipped by " + step.ID,
						StartedAt: e.now(),
					})
				}
				i = target
				continue
			}
		}
		i++
	}
	return nil
}

// groupStarts maps the index of each parallel group's first step to the
// indexes of its members.
func groupStarts(def *Definition) map[int][]int {
	out := make(map[int][]int, len(def.Optimization.ParallelGroups))
	for _, group := range def.Optimization.ParallelGroups {
		idxs := make([]int, 0, len(group))
		for _, id := range group {
			if idx := def.StepIndex(id); idx >= 0 {
				idxs = append(idxs, idx)
			}
		}
		if len(idxs) > 1 {
			out[idxs[0]] = idxs
		}
	}
	return out
}

func (e *Executor) runStep(ctx context.Context, def *Definition, step *Step, ec *ExecutionContext) stepOutcome {
	ctx, span := e.tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.String("step.id", step.ID),
		attribute.String("step.handler", step.Handler),
		attribute.Bool("step.critical", step.Critical),
	))
	defer span.End()

	rec := StepRecord{StepID: step.ID, Handler: step.Handler, StartedAt: e.now()}

	if step.cond != nil && !step.cond.Eval(ec) {
		rec.Status = StepSkipped
		rec.Reason = "condition not met: " + step.cond.String()
		e.record(ec, rec)
		span.SetAttributes(attribute.String("step.status", string(StepSkipped)))
		return stepOutcome{status: StepSkipped}
	}

	ec.step = step.ID
	status, attempts, err := e.invoke(ctx, def, step, ec)
	ec.step = ""

	rec.Status = status
	rec.Attempts = attempts
	rec.Duration = e.now().Sub(rec.StartedAt)
	if out, ok := ec.Outputs[step.ID]; ok {
		rec.Output = out
	}
	if status == StepSkipped {
		rec.Reason = "handler declined to run"
	}
	span.SetAttributes(
		attribute.String("step.status", string(status)),
		attribute.Int("step.attempts", attempts),
	)

	if err != nil {
		rec.Error = err.Error()
		e.record(ec, rec)
		ec.AddError(step.ID, step.Handler, err, step.Critical)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Warn().
			Err(err).
			Str("pipeline", def.ID).
			Str("step", step.ID).
			Bool("critical", step.Critical).
			Msg("Step failed")
		return stepOutcome{status: StepError, err: err}
	}

	e.record(ec, rec)
	if status == StepSuccess && step.OnSuccess != nil && step.OnSuccess.SetFlag != "" {
		ec.Flags[step.OnSuccess.SetFlag] = true
	}
	return stepOutcome{status: status}
}

func (e *Executor) invoke(ctx context.Context, def *Definition, step *Step, ec *ExecutionContext) (StepStatus, int, error) {
	h, err := e.registry.Get(step.Handler, step.Config, def.Optimization.ReuseHandlers)
	if err != nil {
		return StepError, 0, &HandlerExecutionError{StepID: step.ID, Handler: step.Handler, Err: err}
	}
	if g, ok := h.(Gate); ok && !g.ShouldRun(ec) {
		return StepSkipped, 0, nil
	}
	if v, ok := h.(InputValidator); ok {
		if err := v.ValidateInput(ec); err != nil {
			return StepError, 0, &HandlerExecutionError{StepID: step.ID, Handler: step.Handler, Err: fmt.Errorf("invalid input: %w", err)}
		}
	}

	maxRetries := def.ErrorHandling.MaxRetries
	if step.Retries != nil {
		maxRetries = *step.Retries
	}
	if rs, ok := h.(RetrySafe); !ok || !rs.RetrySafe() {
		maxRetries = 0
	}

	for attempt := 1; ; attempt++ {
		err := e.attempt(ctx, step, h, ec)
		if err == nil {
			return StepSuccess, attempt, nil
		}
		if attempt > maxRetries || ctx.Err() != nil {
			return StepError, attempt, &HandlerExecutionError{StepID: step.ID, Handler: step.Handler, Attempts: attempt, Err: err}
		}
		e.log.Debug().
			Err(err).
			Str("step", step.ID).
			Int("attempt", attempt).
			Msg("Retrying step")
		if !sleep(ctx, def.ErrorHandling.RetryDelay.Std()) {
			return StepError, attempt, &HandlerExecutionError{StepID: step.ID, Handler: step.Handler, Attempts: attempt, Err: ctx.Err()}
		}
	}
}

// attempt runs the handler once. Handler panics become step errors.
func (e *Executor) attempt(ctx context.Context, step *Step, h Handler, ec *ExecutionContext) (err error) {
	timeout := step.Timeout.Std()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	err = h.Run(ctx, ec)
	if err != nil && timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Executor) record(ec *ExecutionContext, rec StepRecord) {
	ec.Metadata.Steps = append(ec.Metadata.Steps, rec)
	ec.Metadata.Timings[rec.StepID] = rec.Duration
}

// runGroup runs a parallel group on clones of the pre-group context and
// merges the results back in declaration order. A data key or flag changed
// by more than one member is recorded as an error and left untouched.
func (e *Executor) runGroup(ctx context.Context, def *Definition, idxs []int, ec *ExecutionContext) *stepFailure {
	base := ec.Clone()
	clones := make([]*ExecutionContext, len(idxs))
	outcomes := make([]stepOutcome, len(idxs))
	panics := make([]any, len(idxs))

	var g errgroup.Group
	for k, idx := range idxs {
		clones[k] = ec.Clone()
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					panics[k] = r
				}
			}()
			outcomes[k] = e.runStep(ctx, def, &def.Steps[idx], clones[k])
			return nil
		})
	}
	_ = g.Wait()
	for k, p := range panics {
		if p != nil {
			panic(fmt.Sprintf("parallel step %q: %v", def.Steps[idxs[k]].ID, p))
		}
	}

	dataWriters := make(map[string][]int)
	flagWriters := make(map[string][]int)
	for k, idx := range idxs {
		c := clones[k]
		id := def.Steps[idx].ID

		ec.Metadata.Steps = append(ec.Metadata.Steps, c.Metadata.Steps[len(base.Metadata.Steps):]...)
		ec.Metadata.Errors = append(ec.Metadata.Errors, c.Metadata.Errors[len(base.Metadata.Errors):]...)
		ec.Metadata.Timings[id] = c.Metadata.Timings[id]

		for key, v := range c.Data {
			if old, ok := base.Data[key]; !ok || !reflect.DeepEqual(old, v) {
				dataWriters[key] = append(dataWriters[key], k)
			}
		}
		for key, v := range c.Flags {
			if old, ok := base.Flags[key]; !ok || old != v {
				flagWriters[key] = append(flagWriters[key], k)
			}
		}
		for key, v := range c.Outputs {
			if old, ok := base.Outputs[key]; !ok || !reflect.DeepEqual(old, v) {
				ec.Outputs[key] = v
			}
		}
	}

	groupID := groupLabel(def, idxs)
	for _, key := range sortedKeys(dataWriters) {
		writers := dataWriters[key]
		if len(writers) > 1 {
			ec.AddError(groupID, "", fmt.Errorf("data key %q written by %s", key, stepNames(def, idxs, writers)), false)
			continue
		}
		ec.Data[key] = clones[writers[0]].Data[key]
	}
	for _, key := range sortedKeys(flagWriters) {
		writers := flagWriters[key]
		if len(writers) > 1 {
			ec.AddError(groupID, "", fmt.Errorf("flag %q written by %s", key, stepNames(def, idxs, writers)), false)
			continue
		}
		ec.Flags[key] = clones[writers[0]].Flags[key]
	}

	for k, idx := range idxs {
		if step := &def.Steps[idx]; outcomes[k].err != nil && step.Critical {
			return &stepFailure{step: step, err: outcomes[k].err}
		}
	}
	return nil
}

func groupLabel(def *Definition, idxs []int) string {
	ids := make([]string, len(idxs))
	for i, idx := range idxs {
		ids[i] = def.Steps[idx].ID
	}
	return "group[" + strings.Join(ids, ",") + "]"
}

func stepNames(def *Definition, idxs, members []int) string {
	names := make([]string, len(members))
	for i, k := range members {
		names[i] = def.Steps[idxs[k]].ID
	}
	return strings.Join(names, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// runRecovery invokes the configured recovery handler with the failure
// details merged into its config.
func (e *Executor) runRecovery(ctx context.Context, def *Definition, ec *ExecutionContext, failure *stepFailure) bool {
	name := def.ErrorHandling.RecoveryHandler
	if name == "" {
		return false
	}

	cfg := copyMap(def.ErrorHandling.RecoveryConfig)
	cfg["failed_step"] = failure.step.ID
	cfg["handler"] = failure.step.Handler
	cfg["error"] = failure.err.Error()

	step := &Step{ID: "recovery", Handler: name, Timeout: failure.step.Timeout}
	rec := StepRecord{StepID: step.ID, Handler: name, StartedAt: e.now(), Attempts: 1}

	h, err := e.registry.Get(name, cfg, false)
	if err == nil {
		ec.step = step.ID
		err = e.attempt(ctx, step, h, ec)
		ec.step = ""
	}
	rec.Duration = e.now().Sub(rec.StartedAt)

	if err != nil {
		rec.Status = StepError
		rec.Error = err.Error()
		e.record(ec, rec)
		ec.AddError(step.ID, name, err, true)
		e.log.Warn().Err(err).Str("pipeline", def.ID).Str("handler", name).Msg("Recovery handler failed")
		return false
	}

	rec.Status = StepSuccess
	if out, ok := ec.Outputs[step.ID]; ok {
		rec.Output = out
	}
	e.record(ec, rec)
	ec.Metadata.RecoveryUsed = name
	e.log.Info().Str("pipeline", def.ID).Str("handler", name).Msg("Recovered from critical failure")
	return true
}

// runFallbacks tries each fallback pipeline on a clone of ec and adopts the
// first one that finishes without a critical failure.
func (e *Executor) runFallbacks(ctx context.Context, def *Definition, ec *ExecutionContext, depth int) bool {
	refs := def.ErrorHandling.FallbackPipelines
	if len(refs) == 0 {
		return false
	}
	if e.source == nil {
		ec.AddError("fallback", "", errors.New("fallback pipelines configured without a definition source"), false)
		return false
	}

	for _, ref := range refs {
		tier, name, _ := strings.Cut(ref, "/")
		fb, err := e.source.Load(tier, name)
		if err != nil {
			ec.AddError("fallback:"+ref, "", err, false)
			continue
		}

		trial := ec.Clone()
		e.run(ctx, fb, trial, depth+1)

		if st := trial.Metadata.Status; st != FlowCompleted && st != FlowRecovered {
			ec.AddError("fallback:"+ref, "", fmt.Errorf("fallback pipeline ended %s", st), false)
			e.log.Warn().Str("pipeline", def.ID).Str("fallback", ref).Msg("Fallback pipeline failed")
			continue
		}

		ec.Data = trial.Data
		ec.Flags = trial.Flags
		ec.Outputs = trial.Outputs
		ec.Config = trial.Config
		ec.Metadata.Steps = trial.Metadata.Steps
		ec.Metadata.Errors = trial.Metadata.Errors
		for k, v := range trial.Metadata.Timings {
			ec.Metadata.Timings[k] = v
		}
		ec.Metadata.FallbackUsed = ref
		e.log.Info().Str("pipeline", def.ID).Str("fallback", ref).Msg("Fallback pipeline succeeded")
		return true
	}
	return false
}
