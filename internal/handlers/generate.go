package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RichLycus/ProjekUtama-sub000/internal/llm"
	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

// DefaultSystemPrompt is used when neither the step nor the flow sets one.
const DefaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely."

// ErrNoGenerator is returned when a generate step runs without a backend.
var ErrNoGenerator = errors.New("no generator configured")

// GenerateHandler calls the generation backend and stores the answer under
// KeyResponse. Step config overrides the pipeline profile, which overrides
// the backend defaults.
type GenerateHandler struct {
	gen          llm.Generator
	model        string
	system       string
	temperature  *float64
	maxTokens    int
	useDocuments bool
}

// RetrySafe reports true; the response is only written after a successful call.
func (h *GenerateHandler) RetrySafe() bool { return true }

// ValidateInput requires a query or message to answer.
func (h *GenerateHandler) ValidateInput(ec *pipeline.ExecutionContext) error {
	if ec.GetString(KeyQuery) == "" && ec.GetString(KeyMessage) == "" {
		return ErrNoMessage
	}
	return nil
}

func (h *GenerateHandler) Run(ctx context.Context, ec *pipeline.ExecutionContext) error {
	if h.gen == nil {
		return ErrNoGenerator
	}

	req := h.request(ec)
	res, err := h.gen.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if res == nil || !res.Success {
		return errors.New("generate: backend returned no answer")
	}

	meta := make(map[string]any, len(res.Metadata)+1)
	for k, v := range res.Metadata {
		meta[k] = v
	}
	if _, ok := meta["model"]; !ok || meta["model"] == "" {
		meta["model"] = req.Model
	}

	ec.Set(KeyResponse, strings.TrimSpace(res.Text))
	ec.Set(KeyGeneration, meta)
	ec.SetOutput(meta["model"])
	return nil
}

func (h *GenerateHandler) request(ec *pipeline.ExecutionContext) *llm.GenerateRequest {
	query := ec.GetString(KeyQuery)
	if query == "" {
		query = strings.TrimSpace(ec.GetString(KeyMessage))
	}

	req := &llm.GenerateRequest{
		Model:  h.model,
		Prompt: query,
		System: h.system,
	}
	if req.Model == "" {
		req.Model = flowString(ec, "model")
	}
	if req.System == "" {
		req.System = flowString(ec, "system")
	}
	if req.System == "" {
		req.System = DefaultSystemPrompt
	}
	if h.temperature != nil {
		req.Temperature = *h.temperature
	} else if t, ok := flowFloat(ec, "temperature"); ok {
		req.Temperature = t
	}
	req.MaxTokens = h.maxTokens
	if req.MaxTokens == 0 {
		req.MaxTokens, _ = flowInt(ec, "max_tokens")
	}

	if docs := documents(ec); h.useDocuments && len(docs) > 0 {
		req.Prompt = groundedPrompt(query, docs)
	}
	return req
}

func groundedPrompt(query string, docs []Document) string {
	var b strings.Builder
	b.WriteString("Use the following documents to answer the question.\n\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i+1, d.ID, strings.TrimSpace(d.Content))
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

func newGenerate(gen llm.Generator) pipeline.Factory {
	return func(cfg map[string]any) (pipeline.Handler, error) {
		h := &GenerateHandler{gen: gen}
		h.model, _ = configString(cfg, "model")
		h.system, _ = configString(cfg, "system")

		t, ok, err := configFloat(cfg, "temperature")
		if err != nil {
			return nil, err
		}
		if ok {
			if t < 0 || t > 2 {
				return nil, fmt.Errorf("temperature must be within [0, 2], got %v", t)
			}
			h.temperature = &t
		}

		n, ok, err := configInt(cfg, "max_tokens")
		if err != nil {
			return nil, err
		}
		if ok && n <= 0 {
			return nil, fmt.Errorf("max_tokens must be positive, got %d", n)
		}
		h.maxTokens = n

		if h.useDocuments, err = configBool(cfg, "use_documents"); err != nil {
			return nil, err
		}
		return h, nil
	}
}
