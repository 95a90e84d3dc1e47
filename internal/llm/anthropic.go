package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kalambet/orb/internal/config"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic runs completions against the Anthropic Messages API. It has no
// JSON response mode, so JSON requests are steered through the system prompt.
type Anthropic struct {
	client *anthropic.Client
	cfg    config.LLMConfig
}

// NewAnthropic creates an Anthropic client from cfg.
func NewAnthropic(cfg config.LLMConfig) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	return &Anthropic{client: &client, cfg: cfg}
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := a.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	}
	if system := systemWithJSONHint(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if a.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(a.cfg.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return finish("anthropic", sb.String())
}
