package handlers

import (
	"context"

	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

// FallbackResponseHandler is a recovery handler: it replaces the answer with
// a fixed message so the flow can still return something to the user. The
// executor merges failed_step, handler and error into its config.
type FallbackResponseHandler struct {
	message    string
	failedStep string
}

// RetrySafe reports true; the handler only writes constants.
func (h *FallbackResponseHandler) RetrySafe() bool { return true }

func (h *FallbackResponseHandler) Run(_ context.Context, ec *pipeline.ExecutionContext) error {
	ec.Set(KeyResponse, h.message)
	ec.Set(KeyOutput, h.message)
	ec.Set(KeyFallback, true)
	if h.failedStep != "" {
		ec.Set(KeyFailedStep, h.failedStep)
	}
	ec.SetOutput(h.message)
	return nil
}

func newFallbackResponse(cfg map[string]any) (pipeline.Handler, error) {
	h := &FallbackResponseHandler{message: DefaultFallbackMessage}
	if m, _ := configString(cfg, "message"); m != "" {
		h.message = m
	}
	h.failedStep, _ = configString(cfg, "failed_step")
	return h, nil
}
