package embedding

import (
	"context"
	"fmt"
	"io"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached memoizes an Embedder by exact input text. Vectors are copied on the
// way in and out so callers cannot mutate cached entries.
type Cached struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps next with an LRU cache holding up to size vectors.
func NewCached(next Embedder, size int) (*Cached, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return slices.Clone(vec), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, slices.Clone(vec))
	return vec, nil
}

// Len reports the number of cached vectors.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Close closes the wrapped embedder when it holds resources.
func (c *Cached) Close() error {
	if closer, ok := c.next.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
