package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kalambet/orb/internal/config"
)

// OpenAI talks to any host implementing the OpenAI chat completions API:
// OpenAI itself, Groq and OpenRouter.
type OpenAI struct {
	client *openai.Client
	cfg    config.LLMConfig
}

// NewOpenAI creates a client for cfg.BaseURL, or api.openai.com when empty.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, cfg: cfg}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	system := systemWithJSONHint(req)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.cfg.Model),
		Messages: messages,
	}
	if o.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(o.cfg.MaxTokens))
	}
	if o.cfg.Temperature > 0 {
		params.Temperature = openai.Float(o.cfg.Temperature)
	}
	if req.JSON || req.Schema != nil {
		// JSON object mode requires the word "JSON" in the prompt, which the
		// system hint supplies.
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	return finish("openai", resp.Choices[0].Message.Content)
}
