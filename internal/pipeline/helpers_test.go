package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// setHandler writes config["value"] to data[config["key"]].
type setHandler struct {
	key   string
	value any
}

func (h *setHandler) Run(_ context.Context, ec *ExecutionContext) error {
	ec.Set(h.key, h.value)
	ec.SetOutput(h.value)
	return nil
}

// flakyHandler fails until it has been called more than failures times.
type flakyHandler struct {
	failures  int32
	calls     *atomic.Int32
	retrySafe bool
}

func (h *flakyHandler) Run(_ context.Context, ec *ExecutionContext) error {
	n := h.calls.Add(1)
	if n <= h.failures {
		return fmt.Errorf("attempt %d failed", n)
	}
	ec.Set("flaky", "ok")
	return nil
}

func (h *flakyHandler) RetrySafe() bool { return h.retrySafe }

type gatedHandler struct{ allow bool }

func (h *gatedHandler) Run(_ context.Context, ec *ExecutionContext) error {
	ec.Set("gated", true)
	return nil
}

func (h *gatedHandler) ShouldRun(*ExecutionContext) bool { return h.allow }

type panickyGate struct{}

func (panickyGate) Run(context.Context, *ExecutionContext) error { return nil }

func (panickyGate) ShouldRun(*ExecutionContext) bool { panic("gate exploded") }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(WithRegistryLogger(logging.Nop()))

	require.NoError(t, r.Register("set", func(cfg map[string]any) (Handler, error) {
		key, _ := cfg["key"].(string)
		if key == "" {
			return nil, errors.New("set: key is required")
		}
		return &setHandler{key: key, value: cfg["value"]}, nil
	}, WithSchema(Schema{Required: []string{"key"}, Optional: []string{"value"}, Strict: true})))

	require.NoError(t, r.Register("trace", func(map[string]any) (Handler, error) {
		return HandlerFunc(func(_ context.Context, ec *ExecutionContext) error {
			trace, _ := ec.Data["trace"].([]string)
			ec.Data["trace"] = append(append([]string(nil), trace...), ec.CurrentStep())
			return nil
		}), nil
	}))

	require.NoError(t, r.Register("fail", func(cfg map[string]any) (Handler, error) {
		msg, _ := cfg["message"].(string)
		if msg == "" {
			msg = "boom"
		}
		return HandlerFunc(func(context.Context, *ExecutionContext) error {
			return errors.New(msg)
		}), nil
	}))

	require.NoError(t, r.Register("panic", func(map[string]any) (Handler, error) {
		return HandlerFunc(func(context.Context, *ExecutionContext) error {
			panic("handler exploded")
		}), nil
	}))

	require.NoError(t, r.Register("flag", func(cfg map[string]any) (Handler, error) {
		name, _ := cfg["name"].(string)
		value, _ := cfg["value"].(bool)
		return HandlerFunc(func(_ context.Context, ec *ExecutionContext) error {
			ec.SetFlag(name, value)
			return nil
		}), nil
	}))

	require.NoError(t, r.Register("wait", func(map[string]any) (Handler, error) {
		return HandlerFunc(func(ctx context.Context, _ *ExecutionContext) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil
	}))

	require.NoError(t, r.Register("recover", func(cfg map[string]any) (Handler, error) {
		return HandlerFunc(func(_ context.Context, ec *ExecutionContext) error {
			ec.Set("recovered_from", cfg["failed_step"])
			ec.Set("recovery_error", cfg["error"])
			ec.Set("output", "recovered")
			return nil
		}), nil
	}))

	return r
}

func step(id, handler string, critical bool, cfg map[string]any) Step {
	return Step{ID: id, Handler: handler, Critical: critical, Config: cfg}
}

func mustPrepare(t *testing.T, def *Definition) *Definition {
	t.Helper()
	require.NoError(t, Prepare(def, logging.Nop()))
	return def
}

// staticSource serves definitions from a map keyed by "tier/name".
type staticSource map[string]*Definition

func (s staticSource) Load(tier, name string) (*Definition, error) {
	if d, ok := s[tier+"/"+name]; ok {
		return d, nil
	}
	return nil, &NotFoundError{Kind: "pipeline", Name: tier + "/" + name}
}
