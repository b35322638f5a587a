// Package handlers provides the built-in pipeline step handlers: request
// preprocessing, result cache lookup and store, document retrieval, text
// generation, quality checking, output formatting and the fallback response
// used for recovery.
//
// Handlers communicate through well-known ExecutionContext data keys and
// flags, listed below. Pipelines are free to add their own.
package handlers

// Data keys.
const (
	KeyMessage      = "message"       // raw user text (input)
	KeySessionID    = "session_id"    // optional session identifier (input)
	KeyPersona      = "persona"       // optional persona name (input)
	KeyQuery        = "query"         // normalized text
	KeyCacheKey     = "cache_key"     // result cache key for the query
	KeyDocuments    = "documents"     // []Document from retrieval
	KeyResponse     = "response"      // generated or cached answer
	KeyGeneration   = "generation"    // backend metadata of the last generation
	KeyQualityScore = "quality_score" // float64 in [0,1]
	KeyOutput       = "output"        // final formatted answer
	KeySources      = "sources"       // document ids cited in the output
	KeyFallback     = "fallback"      // true when the fallback response was used
	KeyFailedStep   = "failed_step"   // step that triggered recovery
)

// Flags.
const (
	FlagCacheHit     = "cache_hit"
	FlagNeedsUpgrade = "needs_upgrade"
)

// Handler names.
const (
	Preprocess       = "preprocess"
	CacheLookup      = "cache_lookup"
	Retrieve         = "retrieve"
	Generate         = "generate"
	QualityCheck     = "quality_check"
	CacheStore       = "cache_store"
	Format           = "format"
	FallbackResponse = "fallback_response"
)

// DefaultFallbackMessage is shown to users when no pipeline could answer.
const DefaultFallbackMessage = "Sorry, I wasn't able to answer that right now. Please try again in a moment."
