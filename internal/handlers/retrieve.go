package handlers

import (
	"context"
	"fmt"
	"sort"

	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
	"github.com/RichLycus/ProjekUtama-sub000/internal/session"
)

// DefaultTopK is the number of documents retrieved when neither the step nor
// the pipeline profile sets top_k.
const DefaultTopK = 3

// Document is one retrieval result.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever returns documents ranked by relevance, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, filters map[string]any) ([]Document, error)
}

// StaticRetriever ranks a fixed document set by keyword coverage of the
// query. It backs the CLI demo and tests.
type StaticRetriever struct {
	docs []Document
}

// NewStaticRetriever creates a retriever over docs.
func NewStaticRetriever(docs ...Document) *StaticRetriever {
	return &StaticRetriever{docs: append([]Document(nil), docs...)}
}

// Retrieve implements Retriever. Filters match document metadata by equality.
func (r *StaticRetriever) Retrieve(ctx context.Context, query string, topK int, filters map[string]any) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := session.ExtractKeywords(query)
	if len(want) == 0 || topK <= 0 {
		return nil, nil
	}

	var out []Document
	for _, d := range r.docs {
		if !matchesFilters(d.Metadata, filters) {
			continue
		}
		have := session.ExtractKeywords(d.Content)
		hits := 0
		for w := range want {
			if _, ok := have[w]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		d.Score = float64(hits) / float64(len(want))
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func matchesFilters(meta, filters map[string]any) bool {
	for k, v := range filters {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// RetrieveHandler stores the top documents for the query under KeyDocuments.
type RetrieveHandler struct {
	retriever Retriever
	topK      int
	filters   map[string]any
}

// ShouldRun skips the step when no retriever is configured.
func (h *RetrieveHandler) ShouldRun(*pipeline.ExecutionContext) bool {
	return h.retriever != nil
}

// RetrySafe reports true; retrieval does not mutate the context until it succeeds.
func (h *RetrieveHandler) RetrySafe() bool { return true }

func (h *RetrieveHandler) Run(ctx context.Context, ec *pipeline.ExecutionContext) error {
	query := ec.GetString(KeyQuery)
	if query == "" {
		query = ec.GetString(KeyMessage)
	}

	topK := h.topK
	if topK == 0 {
		if n, ok := flowInt(ec, "top_k"); ok && n > 0 {
			topK = n
		} else {
			topK = DefaultTopK
		}
	}

	docs, err := h.retriever.Retrieve(ctx, query, topK, h.filters)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	ec.Set(KeyDocuments, docs)
	ec.SetOutput(len(docs))
	return nil
}

func newRetrieve(r Retriever) pipeline.Factory {
	return func(cfg map[string]any) (pipeline.Handler, error) {
		h := &RetrieveHandler{retriever: r}
		n, ok, err := configInt(cfg, "top_k")
		if err != nil {
			return nil, err
		}
		if ok {
			if n <= 0 {
				return nil, fmt.Errorf("top_k must be positive, got %d", n)
			}
			h.topK = n
		}
		if f, ok := cfg["filters"]; ok && f != nil {
			m, ok := f.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("filters: unexpected type %T", f)
			}
			h.filters = m
		}
		return h, nil
	}
}

// documents returns the retrieved documents in the context, if any.
func documents(ec *pipeline.ExecutionContext) []Document {
	docs, _ := ec.Data[KeyDocuments].([]Document)
	return docs
}

// sourceIDs lists the ids of retrieved documents, or the cached sources on a
// cache hit.
func sourceIDs(ec *pipeline.ExecutionContext) []string {
	if docs := documents(ec); len(docs) > 0 {
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.ID
		}
		return ids
	}
	ids, _ := ec.Data[KeySources].([]string)
	return ids
}
