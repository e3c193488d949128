package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexiqai/story-pipeline/internal/storage"
	"github.com/lexiqai/story-pipeline/internal/story"
)

func newTopicCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Manage queued topics",
	}
	cmd.AddCommand(newTopicAddCommand())
	return cmd
}

func newTopicAddCommand() *cobra.Command {
	var (
		class     string
		requestor string
	)

	cmd := &cobra.Command{
		Use:     "add <text>",
		Short:   "Queue a topic",
		Example: `server topic add --class VIP --requestor alice "CharA and CharB argue about pizza"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := story.ParsePriorityClass(class)
			if err != nil {
				return err
			}
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("topic text is empty")
			}

			cfg, _, err := bootstrap()
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			topic, err := storage.NewTopicStore(db).Create(ctx, &story.Topic{
				PriorityClass: priority,
				RequestorName: requestor,
				Text:          text,
				IsAllowed:     true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), topic.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&class, "class", "c", string(story.ClassUser), "Priority class (SuperVIP, VIP, User, RSS, System)")
	cmd.Flags().StringVarP(&requestor, "requestor", "r", "", "Name of the requester")
	return cmd
}
