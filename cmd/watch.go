package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xolan/billable/internal/engine"
	"github.com/xolan/billable/internal/scheduler"
)

// watchCmd is the periodic trigger: it re-runs the pipeline for the current
// work week on the configured interval until interrupted. Each run re-reads
// the config so policy edits take effect on the next tick.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the periodic processing trigger",
	Long: `Watch processes the current work week immediately and then again on every
configured interval (scheduler.interval_minutes). Manual 'process' runs and
watch ticks funnel through the same per-week run lock, so they never
interleave. Stop with Ctrl-C; an in-flight run aborts before its commit step.`,
	Run: func(cmd *cobra.Command, args []string) {
		runWatch()
	},
}

func runWatch() {
	pol, err := loadPolicy()
	if err != nil {
		fail(err, "Check the config file with 'billable config'")
		return
	}

	st, err := openStore()
	if err != nil {
		fail(err, "Check that the data directory is writable")
		return
	}
	defer st.Close()

	logger := newLogger(slog.LevelInfo)
	eng := engine.New(st, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := &scheduler.Scheduler{
		Interval: pol.Interval,
		Logger:   logger,
		Run: func(ctx context.Context) error {
			// Fresh policy snapshot per run; settings are externally mutable.
			pol, err := loadPolicy()
			if err != nil {
				return err
			}
			_, err = eng.ProcessWeek(ctx, pol, engine.Options{Reference: deps.Now()})
			return err
		},
	}

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fail(err, "")
	}
}
