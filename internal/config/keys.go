package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ORB_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origins", typ: kString, env: "ORB_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "server.api_token", typ: kString, env: "ORB_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.driver", typ: kString, env: "ORB_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ORB_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "ORB_STORAGE_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ORB_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "llm.provider", typ: kString, env: "ORB_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "ORB_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "ORB_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "ORB_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "ORB_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "ORB_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "embedding.provider", typ: kString, env: "ORB_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "ORB_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.base_url", typ: kString, env: "ORB_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.api_key", typ: kString, env: "ORB_EMBEDDING_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "embedding.cache_size", typ: kInt, env: "ORB_EMBEDDING_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.CacheSize },
	},
	{
		key: "embedding.onnx_model_dir", typ: kString, env: "ORB_EMBEDDING_ONNX_MODEL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Embedding.ONNXModelDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.ONNXModelDir },
	},
	{
		key: "embedding.onnx_library_path", typ: kString, env: "ORB_EMBEDDING_ONNX_LIBRARY_PATH",
		apply:   func(cfg *Config, v any) { cfg.Embedding.ONNXLibraryPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.ONNXLibraryPath },
	},
	{
		key: "agent.max_attempts", typ: kInt, env: "ORB_AGENT_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxAttempts },
	},
	{
		key: "agent.call_timeout", typ: kString, env: "ORB_AGENT_CALL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.CallTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.CallTimeout },
	},
	{
		key: "agent.context_tokens", typ: kInt, env: "ORB_AGENT_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Agent.ContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.ContextTokens },
	},
	{
		key: "retrieval.tables", typ: kString, env: "ORB_RETRIEVAL_TABLES",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.Tables = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.Tables },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "ORB_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "ingest.poll_interval", typ: kString, env: "ORB_INGEST_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.PollInterval },
	},
	{
		key: "ingest.max_file_chars", typ: kInt, env: "ORB_INGEST_MAX_FILE_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxFileChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxFileChars },
	},
	{
		key: "log.level", typ: kString, env: "ORB_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "ORB_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secret keys still empty after env overrides from the
// secrets store.
func applySecrets(cfg *Config, secrets secretStore) {
	if secrets == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.typ != kString {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
