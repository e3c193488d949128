package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/story-pipeline/internal/config"
	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/resilience"
	"github.com/lexiqai/story-pipeline/internal/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	run := newRunCommand()

	root := &cobra.Command{
		Use:           "server",
		Short:         "Story generation pipeline",
		Version:       observability.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          run.RunE,
	}
	root.AddCommand(run, newAuditCommand(), newTopicCommand())
	return root
}

// bootstrap loads configuration and initializes the logger
func bootstrap() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return nil, zerolog.Logger{}, err
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	return cfg, observability.GetLogger(), nil
}

// openStorage opens the database, retrying while the file is locked or unavailable
func openStorage(ctx context.Context, cfg *config.Config) (*storage.DB, error) {
	reconnect := resilience.DefaultReconnectConfig()
	reconnect.MaxAttempts = max(1, cfg.ReconnectMaxAttempts)
	reconnect.Backoff = config.Millis(cfg.ReconnectBackoff)

	return resilience.Connect(ctx, "sqlite", func(ctx context.Context) (*storage.DB, error) {
		return storage.Open(ctx, cfg.DatabasePath)
	}, reconnect)
}
