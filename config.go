package chatrelay

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultSystemPrompt = "You are ChatGPT, a helpful assistant who can explain how to use system prompts for learning."

// Modes.
const (
	ModeSession   = "session"
	ModeStateless = "stateless"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds configuration loaded from defaults, an optional YAML file and
// environment variables, in that order.
type Config struct {
	Addr  string `yaml:"addr"`
	Mode  string `yaml:"mode"`
	Store string `yaml:"store"`

	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`

	Provider      string `yaml:"provider"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	GeminiBaseURL string `yaml:"gemini_base_url"`

	Model        string  `yaml:"model"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float32 `yaml:"temperature"`
	SystemPrompt string  `yaml:"system_prompt"`

	CompletionTimeout  time.Duration `yaml:"completion_timeout"`
	StoreTimeout       time.Duration `yaml:"store_timeout"`
	CompletionAttempts int           `yaml:"completion_attempts"`
	HistoryLimit       int           `yaml:"history_limit"`
	RequestLog         bool          `yaml:"request_log"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:               ":3000",
		Mode:               ModeSession,
		Store:              BackendMemory,
		SQLitePath:         "chatrelay.db",
		Provider:           ProviderOpenAI,
		Model:              "gpt-3.5-turbo",
		MaxTokens:          1024,
		Temperature:        0.7,
		SystemPrompt:       DefaultSystemPrompt,
		CompletionTimeout:  30 * time.Second,
		StoreTimeout:       5 * time.Second,
		CompletionAttempts: 1,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (if non-empty)
// and environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("chatrelay: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("chatrelay: parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = envOrDefault("CHATRELAY_ADDR", c.Addr)
	c.Mode = envOrDefault("CHATRELAY_MODE", c.Mode)
	c.Store = envOrDefault("CHATRELAY_STORE", c.Store)
	c.DatabaseURL = envOrDefault("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = envOrDefault("SQLITE_PATH", c.SQLitePath)
	c.Provider = envOrDefault("CHATRELAY_PROVIDER", c.Provider)
	c.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.GeminiAPIKey = envOrDefault("GEMINI_API", c.GeminiAPIKey)
	c.GeminiBaseURL = envOrDefault("GEMINI_BASE_URL", c.GeminiBaseURL)
	c.Model = envOrDefault("MODEL_ID", c.Model)
	c.SystemPrompt = envOrDefault("SYSTEM_PROMPT", c.SystemPrompt)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("LOG_FORMAT", c.LogFormat)

	// Numeric values are only taken when they parse and are positive.
	c.MaxTokens = envPositiveInt("MAX_TOKENS", c.MaxTokens)
	c.CompletionAttempts = envPositiveInt("COMPLETION_ATTEMPTS", c.CompletionAttempts)
	c.HistoryLimit = envPositiveInt("HISTORY_LIMIT", c.HistoryLimit)
	c.CompletionTimeout = envDuration("COMPLETION_TIMEOUT", c.CompletionTimeout)
	c.StoreTimeout = envDuration("STORE_TIMEOUT", c.StoreTimeout)

	if v := os.Getenv("TEMPERATURE"); v != "" {
		if t, err := strconv.ParseFloat(v, 32); err == nil && t >= 0 {
			c.Temperature = float32(t)
		}
	}
	if v := os.Getenv("REQUEST_LOG"); v != "" {
		c.RequestLog = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks that the selected backend and provider are usable.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeSession, ModeStateless:
	default:
		return fmt.Errorf("chatrelay: unknown mode %q", c.Mode)
	}

	switch c.Store {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("chatrelay: DATABASE_URL is required when store=%s", c.Store)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("chatrelay: SQLITE_PATH is required when store=%s", c.Store)
		}
	default:
		return fmt.Errorf("chatrelay: unknown store %q", c.Store)
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("chatrelay: OPENAI_API_KEY is required when provider=%s", c.Provider)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("chatrelay: GEMINI_API is required when provider=%s", c.Provider)
		}
	default:
		return fmt.Errorf("chatrelay: unknown provider %q", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("chatrelay: model is required")
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("chatrelay: system prompt is required")
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("chatrelay: completion timeout must be positive")
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	c.OpenAIAPIKey = mask(c.OpenAIAPIKey)
	c.GeminiAPIKey = mask(c.GeminiAPIKey)
	if c.DatabaseURL != "" {
		c.DatabaseURL = "[redacted]"
	}
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envPositiveInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
