package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

// FormatHandler produces the final output from the response, optionally
// followed by a list of the sources it was grounded on.
type FormatHandler struct {
	includeSources bool
	maxSources     int
}

// RetrySafe reports true; formatting is deterministic.
func (h *FormatHandler) RetrySafe() bool { return true }

func (h *FormatHandler) Run(_ context.Context, ec *pipeline.ExecutionContext) error {
	response := strings.TrimSpace(ec.GetString(KeyResponse))
	if response == "" {
		return errors.New("no response to format")
	}

	output := response
	if h.includeSources {
		ids := sourceIDs(ec)
		if h.maxSources > 0 && len(ids) > h.maxSources {
			ids = ids[:h.maxSources]
		}
		if len(ids) > 0 {
			var b strings.Builder
			b.WriteString(response)
			b.WriteString("\n\nSources:")
			for _, id := range ids {
				b.WriteString("\n- ")
				b.WriteString(id)
			}
			output = b.String()
			ec.Set(KeySources, ids)
		}
	}

	ec.Set(KeyOutput, output)
	ec.SetOutput(len(output))
	return nil
}

func newFormat(cfg map[string]any) (pipeline.Handler, error) {
	h := &FormatHandler{}
	var err error
	if h.includeSources, err = configBool(cfg, "include_sources"); err != nil {
		return nil, err
	}
	n, ok, err := configInt(cfg, "max_sources")
	if err != nil {
		return nil, err
	}
	if ok && n < 0 {
		return nil, fmt.Errorf("max_sources must not be negative, got %d", n)
	}
	h.maxSources = n
	return h, nil
}
