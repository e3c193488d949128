package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexiqai/story-pipeline/internal/pipeline"
	"github.com/lexiqai/story-pipeline/internal/storage"
)

func newAuditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Remove incomplete or orphaned story directories and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			ctx := context.Background()
			db, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			stories := storage.NewStoryStore(db, cfg.AudioDir())
			removed, err := pipeline.NewAuditor(cfg.AudioDir(), cfg.ManifestEnabled, stories).Run(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Audit failed")
				return err
			}
			for _, r := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s (%s)\n", r.ID, r.Reason)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d directories removed\n", len(removed))
			return nil
		},
	}
}
