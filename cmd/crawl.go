package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/fetcher/modian"
)

type crawlFlags struct {
	ids   []int64
	start int64
	end   int64
	delay time.Duration
}

// newCrawlCmd runs one crawl task in the foreground and prints the final task.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls a list or range of project ids and stores new versions",
		Long: `Runs a single crawl task without the HTTP API. Pass either --ids or both
--start and --end. The command blocks until the task finishes; an interrupt
stops the task after the project in flight.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, flags)
		},
	}
	cmd.Flags().Int64SliceVar(&flags.ids, "ids", nil, "comma-separated project ids")
	cmd.Flags().Int64Var(&flags.start, "start", 0, "first project id of an inclusive range")
	cmd.Flags().Int64Var(&flags.end, "end", 0, "last project id of an inclusive range")
	cmd.Flags().DurationVar(&flags.delay, "delay", 0, "pause between projects (default from config)")
	return cmd
}

func (f crawlFlags) options(cmd *cobra.Command) (crawler.Options, error) {
	opts := crawler.Options{IDs: f.ids, Delay: f.delay}
	startSet, endSet := cmd.Flags().Changed("start"), cmd.Flags().Changed("end")
	if startSet != endSet {
		return crawler.Options{}, fmt.Errorf("--start and --end must be given together")
	}
	if startSet {
		start, end := f.start, f.end
		opts.StartID, opts.EndID = &start, &end
	}
	return opts, nil
}

func runCrawl(cmd *cobra.Command, flags crawlFlags) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), app)

	opts, err := flags.options(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan crawler.Task, 1)
	unsubscribe := app.Crawler().Subscribe(func(evt crawler.Event) {
		if evt.Type == crawler.EventTaskCompleted {
			select {
			case done <- evt.Task:
			default:
			}
		}
	})
	defer unsubscribe()

	taskID, err := app.Crawler().Start(ctx, opts)
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}
	app.Logger().Info("crawl started", zap.String("task_id", taskID))

	var task crawler.Task
	select {
	case task = <-done:
	case <-ctx.Done():
		app.Logger().Info("interrupt received, stopping crawl", zap.String("task_id", taskID))
		app.Crawler().Stop()
		task = <-done
	}
	return printJSON(cmd, task)
}

func newCrawlOneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl-one <project-id>",
		Short: "Fetches and normalizes one project without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), app)

			id, err := modian.ParseID(args[0])
			if err != nil {
				return err
			}

			rec, err := app.Crawler().CrawlOne(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("crawl project %d: %w", id, err)
			}
			return printJSON(cmd, rec)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
