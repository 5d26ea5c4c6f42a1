package memory

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"surf/internal/agent/ports"
)

// CachedEmbedder memoizes an Embedder behind an LRU cache. The memory tiers
// embed the same goal and query strings repeatedly; caching turns those into
// map hits instead of endpoint calls.
type CachedEmbedder struct {
	inner ports.Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a cache of the given size (1024 when
// size <= 0).
func NewCachedEmbedder(inner ports.Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, computing it on a miss.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, vec)
	return vec, nil
}

// Dimensions returns the wrapped embedder's dimensionality.
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// Name identifies the wrapped scheme.
func (e *CachedEmbedder) Name() string { return e.inner.Name() }
