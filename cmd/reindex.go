package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/faqbot/internal/app"
	"github.com/koopa0/faqbot/internal/config"
	"github.com/koopa0/faqbot/internal/indexer"
)

var reindexLimit int32

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every knowledge entry",
	Long: `reindex pushes every stored entry (drafts included) through the same
embedding queue the webhook uses, then waits for the queue to drain. Run it
after changing the embedding model or the field selection.`,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().Int32Var(&reindexLimit, "limit", 10_000, "maximum entries to re-embed")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	entries, err := a.FAQs.List(ctx, reindexLimit)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}
	logger.Info("reindex started", "entries", len(entries))

	queued := 0
	for _, e := range entries {
		if err := a.Indexer.OnMutation(indexer.EntryMutation(e)); err != nil {
			logger.Warn("skipping entry", "id", e.ID, "error", err)
			continue
		}
		queued++
	}

	a.Indexer.Wait()
	logger.Info("reindex finished", "queued", queued, "skipped", len(entries)-queued)
	return nil
}
