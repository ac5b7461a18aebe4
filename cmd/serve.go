package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/faqbot/internal/api"
	"github.com/koopa0/faqbot/internal/app"
	"github.com/koopa0/faqbot/internal/config"
	"github.com/koopa0/faqbot/internal/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatbot HTTP server",
	RunE:  runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// newLogger builds the process logger from the environment: FAQBOT_LOG_JSON
// switches to JSON output, FAQBOT_LOG_DEBUG lowers the level.
func newLogger() log.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("FAQBOT_LOG_JSON") != "" {
		cfg.JSON = true
	}
	if os.Getenv("FAQBOT_LOG_DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()
	slog.SetDefault(logger)
	logger.Info("starting faqbot", "version", AppVersion)

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

	server := api.NewServer(
		api.ServerConfig{RateLimit: cfg.RateLimit, RateBurst: cfg.RateBurst},
		api.NewAskHandler(a.Pipeline, logger),
		api.NewEntryHookHandler(a.Indexer, logger),
		api.NewSettingsHandler(a.Settings, logger),
		api.NewHealthHandler(a.DBPool, logger),
		logger,
	)

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	return server.Run(ctx, addr)
}
