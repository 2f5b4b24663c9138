// Package cmd defines the CLI for the insight service.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/config"
	"github.com/JakeFAU/modian-insight/internal/logging"
	"github.com/JakeFAU/modian-insight/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject options.
var newApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "insight",
		Short: "Crawls Modian crowdfunding projects and keeps a versioned history.",
		Long: `insight fetches project details from the Modian crowdfunding site, keeps
a version history of each project whenever something significant changes,
and serves the history and crawler controls over an HTTP API.`,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},

		// Runs after flag parsing and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newCrawlOneCmd(),
		newCleanupCmd(),
		newReindexCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (*server.App, error) {
	app, ok := ctx.Value(appKey).(*server.App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// closeApp releases the app for one-shot commands. serve closes on its own.
func closeApp(ctx context.Context, app *server.App) {
	if err := app.Close(context.WithoutCancel(ctx)); err != nil {
		app.Logger().Warn("close application", zap.Error(err))
	}
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger, logErr := logging.New(logging.Options{})
		if logErr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
