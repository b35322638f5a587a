package handlers

import (
	"fmt"

	"github.com/RichLycus/ProjekUtama-sub000/internal/cache"
	"github.com/RichLycus/ProjekUtama-sub000/internal/llm"
	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

// Deps are the collaborators the built-in handlers use. Any may be nil:
// cache steps then miss or skip, retrieval is skipped, and generation fails.
type Deps struct {
	Cache     *cache.ResultCache
	Generator llm.Generator
	Retriever Retriever
}

type builtin struct {
	name    string
	desc    string
	schema  pipeline.Schema
	factory pipeline.Factory
}

func builtins(deps Deps) []builtin {
	return []builtin{
		{Preprocess, "Normalize the user message into the query",
			pipeline.Schema{Optional: []string{"max_length"}, Strict: true},
			newPreprocess},
		{CacheLookup, "Look the query up in the result cache and set flags.cache_hit",
			pipeline.Schema{Optional: []string{"tier"}, Strict: true},
			newCacheLookup(deps.Cache)},
		{Retrieve, "Fetch supporting documents for the query",
			pipeline.Schema{Optional: []string{"top_k", "filters"}, Strict: true},
			newRetrieve(deps.Retriever)},
		{Generate, "Generate a response with the language model",
			pipeline.Schema{Optional: []string{"model", "system", "temperature", "max_tokens", "use_documents"}, Strict: true},
			newGenerate(deps.Generator)},
		{QualityCheck, "Score the response and set flags.needs_upgrade",
			pipeline.Schema{Optional: []string{"min_length", "threshold"}, Strict: true},
			newQualityCheck},
		{CacheStore, "Store the response in the result cache",
			pipeline.Schema{Optional: []string{"tier", "ttl", "min_quality"}, Strict: true},
			newCacheStore(deps.Cache)},
		{Format, "Produce the final output",
			pipeline.Schema{Optional: []string{"include_sources", "max_sources"}, Strict: true},
			newFormat},
		// Recovery config also receives failed_step, handler and error.
		{FallbackResponse, "Replace the answer with a fixed apology",
			pipeline.Schema{Optional: []string{"message"}},
			newFallbackResponse},
	}
}

// Register adds the built-in handlers to r.
func Register(r *pipeline.Registry, deps Deps) error {
	for _, b := range builtins(deps) {
		if err := r.Register(b.name, b.factory,
			pipeline.WithDescription(b.desc),
			pipeline.WithSchema(b.schema),
		); err != nil {
			return fmt.Errorf("register %s: %w", b.name, err)
		}
	}
	return nil
}

// Names lists the built-in handler names in registration order.
func Names() []string {
	all := builtins(Deps{})
	names := make([]string, len(all))
	for i, b := range all {
		names[i] = b.name
	}
	return names
}
