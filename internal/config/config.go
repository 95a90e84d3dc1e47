package config

import (
	"fmt"
	"strings"
	"time"
)

// MaxAgentAttempts bounds agent.max_attempts. A question never gets more than
// three plan/fetch/synthesize passes.
const MaxAgentAttempts = 3

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Ollama    OllamaConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Agent     AgentConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port        int
	CORSOrigins string
	APIToken    string
}

type StorageConfig struct {
	Driver      string // "sqlite" or "postgres"
	DataDir     string
	PostgresDSN string
}

type OllamaConfig struct {
	BaseURL string
}

type LLMConfig struct {
	Provider    string // "groq", "openai", "openrouter", "anthropic", "gemini", "ollama"
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

type EmbeddingConfig struct {
	Provider        string // "ollama", "openai", "gemini", "onnx"
	Model           string
	BaseURL         string
	APIKey          string
	CacheSize       int
	ONNXModelDir    string
	ONNXLibraryPath string
}

type AgentConfig struct {
	MaxAttempts   int
	CallTimeout   string
	ContextTokens int
}

type RetrievalConfig struct {
	Tables string
	TopK   int
}

type IngestConfig struct {
	PollInterval string
	MaxFileChars int
}

type LogConfig struct {
	Level  string
	Format string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        4000,
			CORSOrigins: "http://localhost:5173",
		},
		Storage: StorageConfig{
			Driver:  "sqlite",
			DataDir: defaultDataDir(),
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		LLM: LLMConfig{
			Provider:    "groq",
			Model:       "llama-3.1-8b-instant",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "all-minilm",
			CacheSize: 1024,
		},
		Agent: AgentConfig{
			MaxAttempts:   3,
			CallTimeout:   "30s",
			ContextTokens: 1500,
		},
		Retrieval: RetrievalConfig{
			Tables: "journal,interaction,ingested_file",
			TopK:   3,
		},
		Ingest: IngestConfig{
			PollInterval: "500ms",
			MaxFileChars: 2000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the YAML config file, environment variables,
// and the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/orb/config.yaml. Environment
// variables (ORB_*) override file values. Secrets (API keys, DSNs, tokens)
// are never read from config.yaml: they come from the environment or from
// secrets.yaml next to it.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), newFileSecrets(secretsFilePath()))
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	return cfg, nil
}

// Validate reports configuration that cannot start a server.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("missing required config: postgres DSN. Set it via environment variable ORB_STORAGE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (want sqlite or postgres)", c.Storage.Driver)
	}

	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return fmt.Errorf("missing required config: API key for llm provider %q. Set it via environment variable ORB_LLM_API_KEY", c.LLM.Provider)
	}

	if c.Agent.MaxAttempts <= 0 || c.Agent.MaxAttempts > MaxAgentAttempts {
		return fmt.Errorf("agent.max_attempts must be between 1 and %d, got %d", MaxAgentAttempts, c.Agent.MaxAttempts)
	}
	if _, err := time.ParseDuration(c.Agent.CallTimeout); err != nil {
		return fmt.Errorf("invalid agent.call_timeout %q: %w", c.Agent.CallTimeout, err)
	}
	if _, err := time.ParseDuration(c.Ingest.PollInterval); err != nil {
		return fmt.Errorf("invalid ingest.poll_interval %q: %w", c.Ingest.PollInterval, err)
	}
	return nil
}

// Timeout returns the per-call deadline for agent steps.
func (c AgentConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(c.CallTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Interval returns the ingest worker poll interval.
func (c IngestConfig) Interval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// TableList splits the comma-separated retrieval table list.
func (c RetrievalConfig) TableList() []string {
	return splitList(c.Tables)
}

// Origins splits the comma-separated CORS origin list.
func (c ServerConfig) Origins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
