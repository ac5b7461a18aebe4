package config

import (
	"fmt"
	"net/url"
)

// Validation bounds. These are deliberately loose: they exist to catch
// obvious misconfiguration (typos, unit confusion), not to police tuning.
const (
	minEmbeddingDim = 1
	maxEmbeddingDim = 8192

	minTopK = 1
	maxTopK = 50

	minAskTimeoutSeconds = 1
	maxAskTimeoutSeconds = 600

	maxIndexDelayMs = 60_000
	maxIndexWorkers = 64
)

// Validate checks the configuration for out-of-range or inconsistent values.
// Called by Load; callers constructing a Config by hand (tests) should call
// it themselves.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderGoogleAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (expected openai, googleai, or ollama)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.EmbeddingDim < minEmbeddingDim || c.EmbeddingDim > maxEmbeddingDim {
		return fmt.Errorf("%w: %d (expected %d-%d)", ErrInvalidEmbeddingDim, c.EmbeddingDim, minEmbeddingDim, maxEmbeddingDim)
	}

	if c.Provider == ProviderOllama {
		if _, err := url.Parse(c.OllamaHost); err != nil || c.OllamaHost == "" {
			return fmt.Errorf("%w: invalid ollama host %q", ErrInvalidProvider, c.OllamaHost)
		}
	}

	// Cosine distance on normalized vectors lives in [0, 2].
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 2 {
		return fmt.Errorf("%w: %v (expected 0-2)", ErrInvalidThreshold, c.SimilarityThreshold)
	}
	if c.RetrievalTopK < minTopK || c.RetrievalTopK > maxTopK {
		return fmt.Errorf("%w: %d (expected %d-%d)", ErrInvalidTopK, c.RetrievalTopK, minTopK, maxTopK)
	}
	if c.AskTimeoutSeconds < minAskTimeoutSeconds || c.AskTimeoutSeconds > maxAskTimeoutSeconds {
		return fmt.Errorf("%w: ask_timeout_seconds=%d (expected %d-%d)", ErrInvalidTimeout, c.AskTimeoutSeconds, minAskTimeoutSeconds, maxAskTimeoutSeconds)
	}

	if c.IndexDelayMs < 0 || c.IndexDelayMs > maxIndexDelayMs {
		return fmt.Errorf("%w: index_delay_ms=%d (expected 0-%d)", ErrInvalidIndexer, c.IndexDelayMs, maxIndexDelayMs)
	}
	if c.IndexWorkers < 1 || c.IndexWorkers > maxIndexWorkers {
		return fmt.Errorf("%w: index_workers=%d (expected 1-%d)", ErrInvalidIndexer, c.IndexWorkers, maxIndexWorkers)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgres)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgres)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: unknown sslmode %q", ErrInvalidPostgres, c.PostgresSSLMode)
	}

	return nil
}
