package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/koopa0/faqbot/db"
	"github.com/koopa0/faqbot/internal/config"
	"github.com/koopa0/faqbot/internal/faq"
	"github.com/koopa0/faqbot/internal/indexer"
	"github.com/koopa0/faqbot/internal/rag"
	"github.com/koopa0/faqbot/internal/settings"
)

// Setup creates and initializes the application. On error everything
// already initialized is released before returning.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	a.FAQs = faq.NewStore(pool, logger)
	a.Settings = settings.NewStore(pool, logger)

	// The admin-stored API key must be exported before the provider plugin
	// reads its environment at Genkit init.
	if err := exportStoredCredential(ctx, cfg, a.Settings, logger); err != nil {
		return nil, err
	}

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Embedder = provideEmbedder(g, cfg)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Model = provideModel(g, cfg)
	if a.Model == nil {
		return nil, fmt.Errorf("model %q not found for provider %q", cfg.ModelName, cfg.Provider)
	}

	embedder := rag.NewEmbedder(a.Embedder)

	a.Pipeline, err = rag.NewPipeline(
		rag.NewRewriter(g, a.Model, logger),
		embedder,
		a.FAQs,
		rag.NewStreamer(g, a.Model),
		rag.PipelineConfig{
			Threshold: cfg.SimilarityThreshold,
			TopK:      cfg.RetrievalTopK,
			Timeout:   time.Duration(cfg.AskTimeoutSeconds) * time.Second,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("building query pipeline: %w", err)
	}

	a.Indexer, err = indexer.New(
		indexer.Config{
			SettleDelay: time.Duration(cfg.IndexDelayMs) * time.Millisecond,
			Workers:     cfg.IndexWorkers,
			TaskTimeout: time.Duration(cfg.AskTimeoutSeconds) * time.Second,
		},
		a.Settings, embedder, a.FAQs, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("building indexer: %w", err)
	}

	return a, nil
}

// exportStoredCredential applies the admin-stored API key for the openai
// provider. The process environment wins when both are set.
func exportStoredCredential(ctx context.Context, cfg *config.Config, store *settings.Store, logger *slog.Logger) error {
	if cfg.Provider != config.ProviderOpenAI || os.Getenv("OPENAI_API_KEY") != "" {
		return nil
	}

	stored, err := store.Get(ctx)
	if err != nil {
		return fmt.Errorf("reading stored credential: %w", err)
	}
	if stored.OpenAIKey == "" {
		return nil
	}

	// Safe: runs once during startup, before any goroutines exist.
	if err := os.Setenv("OPENAI_API_KEY", stored.OpenAIKey); err != nil {
		return fmt.Errorf("exporting stored credential: %w", err)
	}
	logger.Info("using API key from stored settings")
	return nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization so the TracerProvider is ready when plugins register.
// Spans go to a local collector over OTLP HTTP; the collector handles
// authentication and forwarding.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if !cfg.TracingEnabled {
		return func() {}
	}

	if cfg.TracingService != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.TracingService)
	}
	if cfg.TracingEnvironment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.TracingEnvironment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.TracingEndpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", cfg.TracingEndpoint,
		"service", cfg.TracingService,
		"environment", cfg.TracingEnvironment,
	)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports openai (default), googleai, and ollama.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama has no auto-discovery; models register explicitly.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderGoogleAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		logger.Info("initialized Genkit with googleai provider", "model", cfg.ModelName)

	default: // openai
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		// Keyed by server address, registered in provideGenkit.
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderGoogleAI:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	default:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	}
}

// provideModel looks up the chat model registered by the provider plugin.
func provideModel(g *genkit.Genkit, cfg *config.Config) ai.Model {
	switch cfg.Provider {
	case config.ProviderOllama:
		return genkit.LookupModel(g, api.NewName("ollama", cfg.ModelName))
	case config.ProviderGoogleAI:
		return googlegenai.GoogleAIModel(g, cfg.ModelName)
	default:
		return genkit.LookupModel(g, api.NewName("openai", cfg.ModelName))
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
