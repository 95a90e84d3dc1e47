package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kalambet/orb/internal/config"
)

// Gemini runs completions against the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    config.LLMConfig
}

// NewGemini creates a Gemini client from cfg. cfg.BaseURL overrides the API
// endpoint.
func NewGemini(ctx context.Context, cfg config.LLMConfig) (*Gemini, error) {
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
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	gc := &genai.GenerateContentConfig{}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON || req.Schema != nil {
		gc.ResponseMIMEType = "application/json"
	}
	if g.cfg.Temperature > 0 {
		gc.Temperature = genai.Ptr(float32(g.cfg.Temperature))
	}
	if g.cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(req.User), gc)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return finish("gemini", resp.Text())
}
