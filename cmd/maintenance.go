package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/metrics"
)

func newCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Deletes project versions older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), app)

			if !cmd.Flags().Changed("days") {
				days = app.Config().Retention.Days
			}
			res, err := app.Store().Cleanup(cmd.Context(), days)
			if err != nil {
				metrics.ObserveRetentionRun("error")
				return fmt.Errorf("cleanup: %w", err)
			}
			metrics.ObserveRetentionRun("success")
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default from config)")
	return cmd
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuilds the project index from the stored version artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), app)

			n, err := app.Store().Rebuild(cmd.Context())
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			app.Logger().Info("project index rebuilt", zap.Int("projects", n))
			return printJSON(cmd, map[string]int{"projects": n})
		},
	}
}
