package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kalambet/orb/internal/config"
)

// OpenAI embeds text through an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an embedder for cfg.BaseURL, or api.openai.com when empty.
func NewOpenAI(cfg config.EmbeddingConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, model: cfg.Model}
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for 1 input", len(resp.Data))
	}
	return toFloat32(resp.Data[0].Embedding), nil
}
