package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// watch -f list.json: re-run aggregate on a schedule until interrupted.
func watchCmd() *cobra.Command {
	var (
		listPath string
		schedule string
		format   string
		now      bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Aggregate a shopping list on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			requests, err := readShoppingList(listPath)
			if err != nil {
				return err
			}
			if schedule == "" {
				schedule = appCtx.cfg.Watch.Schedule
			}

			agg := appCtx.aggregator(appCtx.cfg.Aggregator.StrictResolve)
			job := func(ctx context.Context) error {
				defer appCtx.pruneSellerCache()
				return runAggregate(ctx, agg, requests, format, cmd.OutOrStdout(), appCtx.log)
			}
			c, err := newWatcher(ctx, schedule, job, appCtx.log)
			if err != nil {
				return err
			}
			if now {
				c.Entries()[0].Job.Run()
			}

			c.Start()
			appCtx.log.Info().Str("schedule", schedule).Msg("watching")
			<-ctx.Done()
			<-c.Stop().Done()
			appCtx.log.Info().Msg("watch stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&listPath, "file", "f", "", "shopping list JSON file")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron spec or @every interval (default from CARDSHOP_WATCH_SCHEDULE)")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	cmd.Flags().BoolVar(&now, "now", true, "run once immediately before the first tick")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// newWatcher schedules job. Overlapping ticks are skipped while a run is
// still in progress, and nothing runs once ctx is done.
func newWatcher(ctx context.Context, schedule string, job func(context.Context) error, log zerolog.Logger) (*cron.Cron, error) {
	cronLog := cron.PrintfLogger(&log)
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.SkipIfStillRunning(cronLog)))

	_, err := c.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if err := job(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled aggregate failed")
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
