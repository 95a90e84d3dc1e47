package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kalambet/orb/internal/config"
)

// Gemini embeds text with a Gemini embedding model.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini embedder from cfg.
func NewGemini(ctx context.Context, cfg config.EmbeddingConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("gemini embed content: got %d vectors for 1 input", len(resp.Embeddings))
	}
	return resp.Embeddings[0].Values, nil
}
