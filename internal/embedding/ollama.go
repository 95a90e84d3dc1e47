package embedding

import (
	"context"
	"fmt"

	"github.com/kalambet/orb/internal/ollama"
)

// Ollama embeds text with a model served by Ollama.
type Ollama struct {
	client *ollama.Client
	model  string
}

// NewOllama creates an embedder using the given client and model name.
func NewOllama(client *ollama.Client, model string) *Ollama {
	return &Ollama{client: client, model: model}
}

// Embed returns the embedding vector for a single text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := o.client.Embed(ctx, o.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}
