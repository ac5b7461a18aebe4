// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.faqbot/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, chat model, embedder model, embedding dimension
//   - Retrieval: similarity threshold, top-K, ask timeout
//   - Indexer: settle delay and worker count for background re-embedding
//   - Storage: PostgreSQL connection (see storage.go)
//   - Server: listen address, rate limiting
//   - Tracing: optional OTLP export (see tracing fields below)
//
// Sensitive values (passwords) are masked in MarshalJSON/String.
// Validation is fail-fast: Load returns an error for out-of-range values.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the chat model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model name is empty.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidIndexer indicates an indexer setting is out of range.
	ErrInvalidIndexer = errors.New("invalid indexer setting")

	// ErrInvalidPostgres indicates a PostgreSQL connection setting is invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL setting")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
	ProviderOllama   = "ollama"
)

// Defaults matching the reference deployment.
const (
	// DefaultModelName is the chat model used for rewriting and answering.
	DefaultModelName = "gpt-4o-mini"

	// DefaultEmbedderModel is the embedding model.
	DefaultEmbedderModel = "text-embedding-3-small"

	// DefaultEmbeddingDim is the vector dimension of the embedding model.
	// Must match the vector(N) column in db/migrations.
	DefaultEmbeddingDim = 1536

	// DefaultSimilarityThreshold is the cosine-distance confidence gate.
	// The nearest match must be at or below this distance to be answered.
	DefaultSimilarityThreshold = 0.85

	// DefaultRetrievalTopK is the number of nearest entries retrieved.
	DefaultRetrievalTopK = 4

	// DefaultAskTimeoutSeconds bounds one ask request end to end.
	DefaultAskTimeoutSeconds = 30

	// DefaultIndexDelayMs is the settle delay before a mutation is
	// re-embedded, giving the originating write time to commit.
	DefaultIndexDelayMs = 1500

	// DefaultIndexWorkers is the background re-index worker count.
	DefaultIndexWorkers = 2
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"` // "openai" (default), "googleai", "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbeddingDim  int    `mapstructure:"embedding_dim" json:"embedding_dim"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Retrieval configuration
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
	RetrievalTopK       int     `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`
	AskTimeoutSeconds   int     `mapstructure:"ask_timeout_seconds" json:"ask_timeout_seconds"`

	// Indexer configuration
	IndexDelayMs int `mapstructure:"index_delay_ms" json:"index_delay_ms"`
	IndexWorkers int `mapstructure:"index_workers" json:"index_workers"`

	// Server configuration
	ListenAddr string  `mapstructure:"listen_addr" json:"listen_addr"`
	RateLimit  float64 `mapstructure:"rate_limit" json:"rate_limit"` // requests/sec, 0 disables
	RateBurst  int     `mapstructure:"rate_burst" json:"rate_burst"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tracing configuration (optional OTLP export via a local agent)
	TracingEnabled     bool   `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	TracingEndpoint    string `mapstructure:"tracing_endpoint" json:"tracing_endpoint"`
	TracingService     string `mapstructure:"tracing_service" json:"tracing_service"`
	TracingEnvironment string `mapstructure:"tracing_environment" json:"tracing_environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".faqbot")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedding_dim", DefaultEmbeddingDim)

	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("similarity_threshold", DefaultSimilarityThreshold)
	v.SetDefault("retrieval_top_k", DefaultRetrievalTopK)
	v.SetDefault("ask_timeout_seconds", DefaultAskTimeoutSeconds)

	v.SetDefault("index_delay_ms", DefaultIndexDelayMs)
	v.SetDefault("index_workers", DefaultIndexWorkers)

	v.SetDefault("listen_addr", "127.0.0.1:8090")
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 30)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "faqbot")
	v.SetDefault("postgres_password", "faqbot_dev_password")
	v.SetDefault("postgres_db_name", "faqbot")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("tracing_endpoint", "localhost:4318")
	v.SetDefault("tracing_service", "faqbot")
	v.SetDefault("tracing_environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
//
// NOTE: OPENAI_API_KEY and GEMINI_API_KEY are read directly by the Genkit
// provider plugins, not via Viper. Their presence is checked in Validate()
// based on the selected provider.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "FAQBOT_PROVIDER")
	mustBind("model_name", "FAQBOT_MODEL_NAME")
	mustBind("embedder_model", "FAQBOT_EMBEDDER_MODEL")
	mustBind("ollama_host", "FAQBOT_OLLAMA_HOST")
	mustBind("listen_addr", "FAQBOT_LISTEN_ADDR")
	mustBind("similarity_threshold", "FAQBOT_SIMILARITY_THRESHOLD")
	mustBind("tracing_enabled", "FAQBOT_TRACING_ENABLED")
	mustBind("tracing_endpoint", "FAQBOT_TRACING_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked to prevent substring matching; longer ones keep the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
