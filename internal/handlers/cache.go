package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RichLycus/ProjekUtama-sub000/internal/cache"
	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
)

// storeTimeout bounds a cache write once it is detached from the request.
const storeTimeout = 5 * time.Second

// CachedAnswer is the value stored in the result cache.
type CachedAnswer struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// cacheTier returns the tier a step caches under: the step's own tier
// setting, else the running pipeline's tier.
func cacheTier(override string, ec *pipeline.ExecutionContext) string {
	if override != "" {
		return override
	}
	return flowString(ec, "tier")
}

// CacheKeyFor derives the result cache key for the context's query.
func CacheKeyFor(ec *pipeline.ExecutionContext, tier string) string {
	text := ec.GetString(KeyQuery)
	if text == "" {
		text = ec.GetString(KeyMessage)
	}
	return cache.GenerateKey(text, &cache.KeyContext{
		SessionID: ec.GetString(KeySessionID),
		Persona:   ec.GetString(KeyPersona),
		Tier:      tier,
	})
}

// CacheLookupHandler sets FlagCacheHit and, on a hit, the cached response.
// Without a cache every lookup is a miss. A failed lookup is not retried.
type CacheLookupHandler struct {
	cache *cache.ResultCache
	tier  string
}

func (h *CacheLookupHandler) Run(ctx context.Context, ec *pipeline.ExecutionContext) error {
	key := CacheKeyFor(ec, cacheTier(h.tier, ec))
	ec.Set(KeyCacheKey, key)

	var hit CachedAnswer
	if h.cache == nil || !h.cache.GetInto(ctx, key, &hit) || hit.Response == "" {
		ec.SetFlag(FlagCacheHit, false)
		ec.SetOutput("miss")
		return nil
	}

	ec.SetFlag(FlagCacheHit, true)
	ec.Set(KeyResponse, hit.Response)
	if len(hit.Sources) > 0 {
		ec.Set(KeySources, append([]string(nil), hit.Sources...))
	}
	ec.SetOutput("hit")
	return nil
}

// CacheStoreHandler writes the response to the result cache under the key
// computed by cache_lookup. The write is detached from the request context
// so an abandoned request still completes or cleanly aborts it.
type CacheStoreHandler struct {
	cache      *cache.ResultCache
	tier       string
	ttl        time.Duration
	minQuality float64
}

// ShouldRun skips the step when no cache is configured.
func (h *CacheStoreHandler) ShouldRun(*pipeline.ExecutionContext) bool {
	return h.cache != nil
}

func (h *CacheStoreHandler) Run(ctx context.Context, ec *pipeline.ExecutionContext) error {
	key := ec.GetString(KeyCacheKey)
	if key == "" {
		return errors.New("no cache key; cache_lookup must run first")
	}
	response := ec.GetString(KeyResponse)
	if response == "" {
		return errors.New("no response to store")
	}
	if score, ok := ec.Get(KeyQualityScore); ok && h.minQuality > 0 {
		if f, _ := score.(float64); f < h.minQuality {
			ec.SetOutput("below_quality")
			return nil
		}
	}

	value := CachedAnswer{Response: response, Sources: sourceIDs(ec)}
	if gen, ok := ec.Data[KeyGeneration].(map[string]any); ok {
		value.Model, _ = gen["model"].(string)
	}
	meta := map[string]any{"pipeline": ec.Metadata.FlowID}
	if score, ok := ec.Get(KeyQualityScore); ok {
		meta[KeyQualityScore] = score
	}

	storeCtx, cancel := logging.DetachContextWithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := h.cache.Set(storeCtx, key, value, cacheTier(h.tier, ec), h.ttl, meta); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	ec.SetOutput("stored")
	return nil
}

func newCacheLookup(rc *cache.ResultCache) pipeline.Factory {
	return func(cfg map[string]any) (pipeline.Handler, error) {
		tier, _ := configString(cfg, "tier")
		return &CacheLookupHandler{cache: rc, tier: tier}, nil
	}
}

func newCacheStore(rc *cache.ResultCache) pipeline.Factory {
	return func(cfg map[string]any) (pipeline.Handler, error) {
		h := &CacheStoreHandler{cache: rc}
		h.tier, _ = configString(cfg, "tier")

		ttl, err := configDuration(cfg, "ttl")
		if err != nil {
			return nil, err
		}
		if ttl < 0 {
			return nil, fmt.Errorf("ttl must not be negative, got %s", ttl)
		}
		h.ttl = ttl

		q, _, err := configFloat(cfg, "min_quality")
		if err != nil {
			return nil, err
		}
		h.minQuality = q
		return h, nil
	}
}
