// Package embedding turns text into vectors for storage and retrieval.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/orb/internal/config"
	"github.com/kalambet/orb/internal/ollama"
)

// Embedder generates embeddings. The same model must be used for writes and
// queries so distances stay comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the embedder named by cfg.Provider, wrapped in an LRU cache when
// cfg.CacheSize is positive. ollamaURL is used by the "ollama" provider when
// cfg.BaseURL is empty.
func New(ctx context.Context, cfg config.EmbeddingConfig, ollamaURL string) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = ollamaURL
		}
		e = NewOllama(ollama.New(base), cfg.Model)
	case "openai":
		e = NewOpenAI(cfg)
	case "gemini":
		e, err = NewGemini(ctx, cfg)
	case "onnx":
		e, err = NewONNX(ONNXConfig{
			ModelDir:       cfg.ONNXModelDir,
			ModelRepo:      cfg.Model,
			OrtLibraryPath: cfg.ONNXLibraryPath,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		return NewCached(e, cfg.CacheSize)
	}
	return e, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
