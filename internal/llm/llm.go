// Package llm abstracts the language model used for planning, SQL generation
// and answer synthesis. Every call is a single system+user exchange; the agent
// keeps no conversation state between calls.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/orb/internal/config"
	"github.com/kalambet/orb/internal/ollama"
)

// ErrEmptyResponse is returned when the model answers with blank text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Schema describes a JSON object the model is asked to produce. Backends
// that cannot enforce a schema fall back to plain JSON mode.
type Schema = ollama.Schema

// SchemaProperty describes a single field within a Schema.
type SchemaProperty = ollama.SchemaProperty

// Request is one completion call.
type Request struct {
	System string
	User   string
	// JSON asks the backend for a single JSON object when it supports a JSON
	// response mode.
	JSON   bool
	Schema *Schema
}

// Client produces a completion for a request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Provider base URLs for OpenAI-compatible hosts.
const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// New builds the client for cfg.Provider. ollamaURL is used by the "ollama"
// provider when cfg.BaseURL is empty.
func New(ctx context.Context, cfg config.LLMConfig, ollamaURL string) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		base := cfg.BaseURL
		if base == "" {
			base = ollamaURL
		}
		return NewOllama(ollama.New(base), cfg), nil
	case "groq":
		return NewOpenAI(withDefaultBase(cfg, GroqBaseURL)), nil
	case "openrouter":
		return NewOpenAI(withDefaultBase(cfg, OpenRouterBaseURL)), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func withDefaultBase(cfg config.LLMConfig, base string) config.LLMConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = base
	}
	return cfg
}

// finish trims the model output and maps blank answers to ErrEmptyResponse.
func finish(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", provider, ErrEmptyResponse)
	}
	return text, nil
}

// jsonInstruction is appended to the system prompt for backends without a
// native JSON response mode.
const jsonInstruction = "Respond with a single JSON object and nothing else."

func systemWithJSONHint(req Request) string {
	if !req.JSON && req.Schema == nil {
		return req.System
	}
	if req.System == "" {
		return jsonInstruction
	}
	return req.System + "\n\n" + jsonInstruction
}
