package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepStatus is the terminal state of one step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepSkipped StepStatus = "skipped"
	StepError   StepStatus = "error"
)

// FlowStatus is the terminal state of a run.
type FlowStatus string

const (
	FlowRunning   FlowStatus = "running"
	FlowCompleted FlowStatus = "completed"
	// FlowRecovered means a critical step failed but the recovery handler or a
	// fallback pipeline succeeded.
	FlowRecovered FlowStatus = "recovered"
	FlowStopped   FlowStatus = "stopped"
	FlowFatal     FlowStatus = "fatal"
)

// StepRecord is one entry of the step log.
type StepRecord struct {
	StepID    string        `json:"step_id"`
	Handler   string        `json:"handler"`
	Status    StepStatus    `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Attempts  int           `json:"attempts,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Output    any           `json:"output,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// ErrorRecord is one entry of the error log.
type ErrorRecord struct {
	StepID   string    `json:"step_id,omitempty"`
	Handler  string    `json:"handler,omitempty"`
	Message  string    `json:"message"`
	Critical bool      `json:"critical"`
	Fatal    bool      `json:"fatal,omitempty"`
	Time     time.Time `json:"time"`
}

// Metadata is the audit trail of a run.
type Metadata struct {
	FlowID       string                   `json:"flow_id"`
	FlowName     string                   `json:"flow_name"`
	FlowVersion  string                   `json:"flow_version"`
	Steps        []StepRecord             `json:"steps"`
	Errors       []ErrorRecord            `json:"errors"`
	Timings      map[string]time.Duration `json:"timings"`
	TotalTime    time.Duration            `json:"total_time"`
	CompletedAt  time.Time                `json:"completed_at"`
	Status       FlowStatus               `json:"status"`
	RecoveryUsed string                   `json:"recovery_used,omitempty"`
	FallbackUsed string                   `json:"fallback_used,omitempty"`
}

// ExecutionContext is the state threaded through one pipeline run. It is
// owned by a single run and is not safe for concurrent use; parallel step
// groups operate on clones.
type ExecutionContext struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      map[string]any  `json:"data"`
	Flags     map[string]bool `json:"flags"`
	Outputs   map[string]any  `json:"outputs"`
	Config    map[string]any  `json:"config"`
	Metadata  Metadata        `json:"metadata"`

	// step currently running; SetOutput records under it.
	step string
}

// NewExecutionContext creates a context seeded with data. The map is copied.
func NewExecutionContext(data map[string]any) *ExecutionContext {
	ec := &ExecutionContext{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Data:      make(map[string]any, len(data)),
		Flags:     make(map[string]bool),
		Outputs:   make(map[string]any),
		Config:    make(map[string]any),
		Metadata: Metadata{
			Timings: make(map[string]time.Duration),
			Status:  FlowRunning,
		},
	}
	for k, v := range data {
		ec.Data[k] = v
	}
	return ec
}

// Get returns a data value. Dotted paths descend into nested maps.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	return lookupPath(ec.Data, key)
}

// GetString returns a data value as a string, or "" if absent or not a string.
func (ec *ExecutionContext) GetString(key string) string {
	v, _ := ec.Get(key)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Set stores a data value.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.Data[key] = value
}

// Flag returns a flag; unset flags are false.
func (ec *ExecutionContext) Flag(name string) bool {
	return ec.Flags[name]
}

// SetFlag sets a flag.
func (ec *ExecutionContext) SetFlag(name string, value bool) {
	ec.Flags[name] = value
}

// ConfigValue returns a flow config value.
func (ec *ExecutionContext) ConfigValue(key string) (any, bool) {
	return lookupPath(ec.Config, key)
}

// SetOutput records the declared output of the running step.
func (ec *ExecutionContext) SetOutput(value any) {
	key := ec.step
	if key == "" {
		key = "_"
	}
	ec.Outputs[key] = value
}

// CurrentStep returns the id of the running step, if any.
func (ec *ExecutionContext) CurrentStep() string {
	return ec.step
}

// HasErrors reports whether any error was recorded.
func (ec *ExecutionContext) HasErrors() bool {
	return len(ec.Metadata.Errors) > 0
}

// AddError appends to the error log.
func (ec *ExecutionContext) AddError(stepID, handler string, err error, critical bool) {
	ec.Metadata.Errors = append(ec.Metadata.Errors, ErrorRecord{
		StepID:   stepID,
		Handler:  handler,
		Message:  err.Error(),
		Critical: critical,
		Time:     time.Now(),
	})
}

// StepStatuses returns the status sequence of the step log.
func (ec *ExecutionContext) StepStatuses() []StepStatus {
	out := make([]StepStatus, len(ec.Metadata.Steps))
	for i, s := range ec.Metadata.Steps {
		out[i] = s.Status
	}
	return out
}

// Step returns the last record for stepID.
func (ec *ExecutionContext) Step(stepID string) (StepRecord, bool) {
	for i := len(ec.Metadata.Steps) - 1; i >= 0; i-- {
		if ec.Metadata.Steps[i].StepID == stepID {
			return ec.Metadata.Steps[i], true
		}
	}
	return StepRecord{}, false
}

// Clone returns a deep copy. Nested maps and slices of the data, output and
// config maps are copied; other values are shared.
func (ec *ExecutionContext) Clone() *ExecutionContext {
	c := &ExecutionContext{
		ID:        ec.ID,
		CreatedAt: ec.CreatedAt,
		Data:      copyMap(ec.Data),
		Flags:     make(map[string]bool, len(ec.Flags)),
		Outputs:   copyMap(ec.Outputs),
		Config:    copyMap(ec.Config),
		Metadata:  ec.Metadata,
		step:      ec.step,
	}
	for k, v := range ec.Flags {
		c.Flags[k] = v
	}
	c.Metadata.Steps = append([]StepRecord(nil), ec.Metadata.Steps...)
	c.Metadata.Errors = append([]ErrorRecord(nil), ec.Metadata.Errors...)
	c.Metadata.Timings = make(map[string]time.Duration, len(ec.Metadata.Timings))
	for k, v := range ec.Metadata.Timings {
		c.Metadata.Timings[k] = v
	}
	return c
}

func (ec *ExecutionContext) String() string {
	return fmt.Sprintf("ExecutionContext{id=%s flow=%s status=%s steps=%d errors=%d}",
		ec.ID, ec.Metadata.FlowID, ec.Metadata.Status, len(ec.Metadata.Steps), len(ec.Metadata.Errors))
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	default:
		return v
	}
}
