// Package retrieval finds stored memories semantically close to a query.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/orb/internal/embedding"
)

// DefaultTopK is the number of nearest rows fetched per table.
const DefaultTopK = 3

// Context maps a table name to the content of its nearest rows, nearest first.
type Context map[string][]string

// Empty reports whether no table returned any content.
func (c Context) Empty() bool {
	for _, items := range c {
		if len(items) > 0 {
			return false
		}
	}
	return true
}

// ContentSearcher is the nearest-neighbour lookup the engine needs from the
// store.
type ContentSearcher interface {
	NearestContent(ctx context.Context, table string, vec []float32, k int) ([]string, error)
}

// Engine embeds a query once and searches each configured table with it.
type Engine struct {
	embedder embedding.Embedder
	store    ContentSearcher
	tables   []string
	topK     int
	logger   *slog.Logger
}

// New creates an Engine over tables. topK <= 0 uses DefaultTopK.
func New(e embedding.Embedder, store ContentSearcher, tables []string, topK int) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{
		embedder: e,
		store:    store,
		tables:   append([]string(nil), tables...),
		topK:     topK,
		logger:   slog.Default().With("component", "retrieval"),
	}
}

// RetrieveContext returns the nearest rows per table. Every configured table
// has an entry. A failing table is logged and left empty; only an embedding
// failure is returned as an error.
func (r *Engine) RetrieveContext(ctx context.Context, query string) (Context, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	out := make(Context, len(r.tables))
	for _, table := range r.tables {
		items, err := r.store.NearestContent(ctx, table, vec, r.topK)
		if err != nil {
			r.logger.Warn("table search failed", "table", table, "error", err)
			items = nil
		}
		if items == nil {
			items = []string{}
		}
		out[table] = items
	}
	return out, nil
}
