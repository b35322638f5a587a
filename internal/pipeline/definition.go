// Package pipeline defines declarative step pipelines and the executor that
// runs them.
//
// A Definition is an ordered list of Steps plus an error-handling policy.
// Each Step names a Handler resolved through the Registry. The Executor runs
// the steps against a single ExecutionContext, evaluating conditions,
// retrying retry-safe handlers, and falling back to a recovery handler or
// alternate pipelines when a critical step fails.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Duration is a time.Duration that decodes from strings such as "30s" in
// YAML, TOML and JSON documents.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// OnSuccess lists actions applied after a step succeeds.
type OnSuccess struct {
	SetFlag string `json:"set_flag,omitempty" yaml:"set_flag,omitempty" toml:"set_flag,omitempty"`
	SkipTo  string `json:"skip_to,omitempty" yaml:"skip_to,omitempty" toml:"skip_to,omitempty"`
}

// Step is one unit of work in a pipeline.
type Step struct {
	ID          string         `json:"id" yaml:"id" toml:"id" validate:"required"`
	Handler     string         `json:"handler" yaml:"handler" toml:"handler" validate:"required"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty" toml:"config,omitempty"`
	Condition   string         `json:"condition,omitempty" yaml:"condition,omitempty" toml:"condition,omitempty"`
	Timeout     Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty" validate:"gte=0"`
	Critical    bool           `json:"critical,omitempty" yaml:"critical,omitempty" toml:"critical,omitempty"`
	Retries     *int           `json:"retries,omitempty" yaml:"retries,omitempty" toml:"retries,omitempty" validate:"omitempty,gte=0,lte=10"`
	OnSuccess   *OnSuccess     `json:"on_success,omitempty" yaml:"on_success,omitempty" toml:"on_success,omitempty"`

	cond *Condition
}

// Profile holds the model parameters of a tier. Zero means unset.
type Profile struct {
	Model       string   `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature,omitempty" validate:"omitempty,gt=0,lte=2"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	TopK        int      `json:"top_k,omitempty" yaml:"top_k,omitempty" toml:"top_k,omitempty" validate:"omitempty,gt=0"`
	Timeout     Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty" validate:"gte=0"`
}

// ErrorHandling is the failure policy of a pipeline.
type ErrorHandling struct {
	MaxRetries        int            `json:"max_retries,omitempty" yaml:"max_retries,omitempty" toml:"max_retries,omitempty" validate:"gte=0,lte=10"`
	RetryDelay        Duration       `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty" toml:"retry_delay,omitempty" validate:"gte=0"`
	RecoveryHandler   string         `json:"recovery_handler,omitempty" yaml:"recovery_handler,omitempty" toml:"recovery_handler,omitempty"`
	RecoveryConfig    map[string]any `json:"recovery_config,omitempty" yaml:"recovery_config,omitempty" toml:"recovery_config,omitempty"`
	FallbackPipelines []string       `json:"fallback_pipelines,omitempty" yaml:"fallback_pipelines,omitempty" toml:"fallback_pipelines,omitempty"`
}

// Optimization carries execution hints.
type Optimization struct {
	ReuseHandlers  bool       `json:"reuse_handlers,omitempty" yaml:"reuse_handlers,omitempty" toml:"reuse_handlers,omitempty"`
	ParallelGroups [][]string `json:"parallel_groups,omitempty" yaml:"parallel_groups,omitempty" toml:"parallel_groups,omitempty"`
}

// Definition is a validated, immutable pipeline.
type Definition struct {
	ID            string         `json:"id" yaml:"id" toml:"id" validate:"required"`
	Name          string         `json:"name" yaml:"name" toml:"name" validate:"required"`
	Version       string         `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Tier          string         `json:"tier,omitempty" yaml:"tier,omitempty" toml:"tier,omitempty"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Profile       Profile        `json:"profile" yaml:"profile,omitempty" toml:"profile,omitempty"`
	Config        map[string]any `json:"config,omitempty" yaml:"config,omitempty" toml:"config,omitempty"`
	Signature     string         `json:"signature,omitempty" yaml:"signature,omitempty" toml:"signature,omitempty"`
	Steps         []Step         `json:"steps" yaml:"steps" toml:"steps" validate:"required,min=1,dive"`
	ErrorHandling ErrorHandling  `json:"error_handling" yaml:"error_handling,omitempty" toml:"error_handling,omitempty"`
	Optimization  Optimization   `json:"optimization" yaml:"optimization,omitempty" toml:"optimization,omitempty"`

	prepared bool
}

// StepIndex returns the position of the step with the given id, or -1.
func (d *Definition) StepIndex(id string) int {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// FlatConfig returns the profile and config merged into one map, as seen by
// `config.X` conditions and handlers.
func (d *Definition) FlatConfig() map[string]any {
	out := make(map[string]any, len(d.Config)+6)
	for k, v := range d.Config {
		out[k] = v
	}
	if d.Tier != "" {
		out["tier"] = d.Tier
	}
	if d.Profile.Model != "" {
		out["model"] = d.Profile.Model
	}
	if d.Profile.Temperature > 0 {
		out["temperature"] = d.Profile.Temperature
	}
	if d.Profile.MaxTokens > 0 {
		out["max_tokens"] = d.Profile.MaxTokens
	}
	if d.Profile.TopK > 0 {
		out["top_k"] = d.Profile.TopK
	}
	if d.Profile.Timeout > 0 {
		out["timeout"] = d.Profile.Timeout.Std().String()
	}
	return out
}

var (
	validate    = validator.New(validator.WithRequiredStructEnabled())
	pipelineRef = regexp.MustCompile(`^[A-Za-z0-9_.\-]+/[A-Za-z0-9_.\-]+$`)
)

// Validate checks struct constraints and cross-step semantics: unique step
// ids, forward skip_to targets outside parallel groups, fallback refs and
// parallel group layout.
func Validate(d *Definition) error {
	verr := &ValidationError{Pipeline: d.ID}

	if err := validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.add("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
		} else {
			verr.add("%v", err)
		}
	}

	seen := make(map[string]int, len(d.Steps))
	for i, s := range d.Steps {
		if s.ID == "" {
			continue
		}
		if prev, dup := seen[s.ID]; dup {
			verr.add("duplicate step id %q at positions %d and %d", s.ID, prev, i)
			continue
		}
		seen[s.ID] = i
	}
	for i, s := range d.Steps {
		if s.OnSuccess == nil || s.OnSuccess.SkipTo == "" {
			continue
		}
		target, ok := seen[s.OnSuccess.SkipTo]
		switch {
		case !ok:
			verr.add("step %q: skip_to target %q does not exist", s.ID, s.OnSuccess.SkipTo)
		case target <= i:
			verr.add("step %q: skip_to target %q must come later", s.ID, s.OnSuccess.SkipTo)
		}
	}

	for _, ref := range d.ErrorHandling.FallbackPipelines {
		if !pipelineRef.MatchString(ref) {
			verr.add("fallback %q is not a tier/name reference", ref)
		}
	}

	grouped := make(map[string]bool)
	inner := make(map[string]int) // group members after the first
	for gi, group := range d.Optimization.ParallelGroups {
		if len(group) < 2 {
			verr.add("parallel group %d needs at least two steps", gi)
			continue
		}
		idxs := make([]int, 0, len(group))
		for _, id := range group {
			idx, ok := seen[id]
			if !ok {
				verr.add("parallel group %d: unknown step %q", gi, id)
				continue
			}
			if grouped[id] {
				verr.add("parallel group %d: step %q already belongs to another group", gi, id)
			}
			grouped[id] = true
			if s := d.Steps[idx]; s.OnSuccess != nil && s.OnSuccess.SkipTo != "" {
				verr.add("parallel group %d: step %q cannot use skip_to", gi, id)
			}
			idxs = append(idxs, idx)
		}
		if len(idxs) != len(group) {
			continue
		}
		for j := 1; j < len(idxs); j++ {
			if idxs[j] != idxs[0]+j {
				verr.add("parallel group %d must list contiguous steps in declaration order", gi)
				break
			}
		}
		for _, id := range group[1:] {
			inner[id] = gi
		}
	}
	for _, s := range d.Steps {
		if s.OnSuccess == nil || s.OnSuccess.SkipTo == "" {
			continue
		}
		if gi, ok := inner[s.OnSuccess.SkipTo]; ok {
			verr.add("step %q: skip_to target %q is inside parallel group %d", s.ID, s.OnSuccess.SkipTo, gi)
		}
	}

	return verr.orNil()
}

// compile parses step conditions. Unparseable conditions are logged and the
// step runs unconditionally.
func compile(d *Definition, log zerolog.Logger) {
	for i := range d.Steps {
		s := &d.Steps[i]
		s.cond = nil
		if strings.TrimSpace(s.Condition) == "" {
			continue
		}
		c, err := ParseCondition(s.Condition)
		if err != nil {
			log.Warn().
				Err(err).
				Str("pipeline", d.ID).
				Str("step", s.ID).
				Msg("Unsupported condition, step will always run")
			continue
		}
		s.cond = c
	}
	d.prepared = true
}

// Prepare validates d and parses its conditions. Loaders call it. The
// executor prepares a copy of any definition that skipped it.
func Prepare(d *Definition, log zerolog.Logger) error {
	if err := Validate(d); err != nil {
		return err
	}
	compile(d, log)
	return nil
}

// ComputeSignature returns the hex SHA-256 of the canonical JSON encoding of
// d with its signature field cleared.
func ComputeSignature(d *Definition) (string, error) {
	clone := *d
	clone.Signature = ""
	canonical, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("canonicalize pipeline %q: %w", d.ID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifySignature reports whether the embedded signature matches the content.
// Definitions without a signature verify trivially.
func VerifySignature(d *Definition) (bool, error) {
	if d.Signature == "" {
		return true, nil
	}
	got, err := ComputeSignature(d)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, d.Signature), nil
}
