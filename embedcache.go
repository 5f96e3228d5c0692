package memstore

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultEmbedCacheSize is the default LRU capacity (spec §5: "in-memory
// LRU (default 500 entries) on text -> vector").
const defaultEmbedCacheSize = 500

// CachedEmbedder wraps an Embedder with an in-memory LRU cache keyed by the
// exact input text. It is owned by the lifecycle coordinator, not by
// individual call sites (spec §9: "global mutable state -> scoped state").
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU cache of the given size (0
// selects defaultEmbedCacheSize).
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = defaultEmbedCacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: c}, nil
}

// Model delegates to the wrapped embedder.
func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

// Embed returns cached vectors for texts already seen, and only calls the
// wrapped embedder for the remainder, preserving input order in the result.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missTexts) {
		return nil, ErrDimensionMismatch
	}

	for j, idx := range missIdx {
		results[idx] = embedded[j]
		c.cache.Add(missTexts[j], embedded[j])
	}
	return results, nil
}

// Len reports the number of cached entries.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Purge clears the cache, used on session_end for session-scoped deployments
// that want a cold cache per session.
func (c *CachedEmbedder) Purge() {
	c.cache.Purge()
}
