package embeddings

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/playbookd/internal/vectorstore"
)

// Cache wraps an Embedder and memoizes vectors by input text. Family
// members sharing a normalization key resolve to one upstream call.
type Cache struct {
	inner vectorstore.Embedder

	mu      sync.Mutex
	vectors map[string][]float32
}

// NewCache creates a cache around the given embedder.
func NewCache(inner vectorstore.Embedder) *Cache {
	return &Cache{
		inner:   inner,
		vectors: make(map[string][]float32),
	}
}

// EmbedDocuments returns embeddings for texts, fetching only cache
// misses from the wrapped embedder. Output order matches input order.
func (c *Cache) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	c.mu.Lock()
	for i, text := range texts {
		if v, ok := c.vectors[text]; ok {
			out[i] = v
			recordCacheHit()
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
		recordCacheMiss()
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.inner.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, idx := range missingIdx {
		c.vectors[missing[j]] = fetched[j]
		out[idx] = fetched[j]
	}
	c.mu.Unlock()

	return out, nil
}

// EmbedQuery returns the embedding for a single text.
func (c *Cache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.vectors)
}

var _ vectorstore.Embedder = (*Cache)(nil)
