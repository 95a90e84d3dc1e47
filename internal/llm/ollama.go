package llm

import (
	"context"

	"github.com/kalambet/orb/internal/config"
	"github.com/kalambet/orb/internal/ollama"
)

// Ollama runs completions against a local Ollama server.
type Ollama struct {
	client *ollama.Client
	model  string
	opts   ollama.Options
}

// NewOllama wraps client with the model and sampling settings from cfg.
func NewOllama(client *ollama.Client, cfg config.LLMConfig) *Ollama {
	return &Ollama{
		client: client,
		model:  cfg.Model,
		opts:   ollama.Options{Temperature: cfg.Temperature, NumPredict: cfg.MaxTokens},
	}
}

func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]ollama.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: req.User})

	opts := o.opts
	out, err := o.client.Chat(ctx, ollama.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Schema:   req.Schema,
		JSON:     req.JSON,
		Options:  &opts,
	})
	if err != nil {
		return "", err
	}
	return finish("ollama", out)
}
