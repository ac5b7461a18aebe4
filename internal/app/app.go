// Package app wires the application together: configuration, tracing,
// database pool, Genkit provider, stores, the query pipeline, and the
// background indexer.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/faqbot/internal/config"
	"github.com/koopa0/faqbot/internal/faq"
	"github.com/koopa0/faqbot/internal/indexer"
	"github.com/koopa0/faqbot/internal/rag"
	"github.com/koopa0/faqbot/internal/settings"
)

// App is the application container. Create with Setup, release with Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Model    ai.Model
	Embedder ai.Embedder

	DBPool   *pgxpool.Pool
	FAQs     *faq.Store
	Settings *settings.Store

	Pipeline *rag.Pipeline
	Indexer  *indexer.Indexer

	otelCleanup func()
}

// Close shuts the application down: the indexer drains its queue first so
// accepted webhook work is not lost, then the pool and tracer are released.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.Indexer != nil {
		a.Indexer.Close()
		a.logger().Info("indexer drained")
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
