package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xolan/billable/internal/config"
	"github.com/xolan/billable/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "billable",
	Short: "Aggregate tracked activity into weekly billable blocks",
	Long: `billable turns raw activity records (coding telemetry, calendar meetings,
sent mail, repository activity, custom events) into half-hour billable blocks
per work week, resolving overlaps by source priority and topping up shortfall
against a weekly target.

Usage:
  billable                 Show the current week's summary
  billable import <file>   Ingest raw events from a JSON Lines file
  billable process         Process the current work week now
  billable watch           Run the periodic processing trigger
  billable report          Show a week's blocks and per-source breakdown
  billable tui             Open the interactive week dashboard
  billable config          Show the effective configuration`,
	Run: func(cmd *cobra.Command, args []string) {
		showStatus()
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tuiCmd)

	processCmd.Flags().String("week", "", "Process the week containing this date (YYYY-MM-DD, default: now)")
	processCmd.Flags().Bool("fill", false, "Force the fill-up stage regardless of the configured auto-fill day")
	reportCmd.Flags().String("week", "", "Report the week containing this date (YYYY-MM-DD, default: now)")
	tuiCmd.Flags().String("week", "", "Open on the week containing this date (YYYY-MM-DD, default: now)")
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(version, commit, date string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(
		"billable version {{.Version}}\n" +
			"commit: " + commit + "\n" +
			"built: " + date + "\n",
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadPolicy reads the config file and resolves the immutable policy snapshot
// for one run. Called at the start of every run so external edits take effect
// on the next batch.
func loadPolicy() (config.Policy, error) {
	path, err := deps.ConfigPath()
	if err != nil {
		return config.Policy{}, fmt.Errorf("determine config location: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Policy{}, err
	}
	return cfg.Policy()
}

// openStore opens the SQLite record store.
func openStore() (*store.Store, error) {
	path, err := deps.DBPath()
	if err != nil {
		return nil, fmt.Errorf("determine database location: %w", err)
	}
	return store.New(path)
}

// newLogger returns a structured logger writing to stderr.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(deps.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveReference parses the optional --week flag into a reference instant.
func resolveReference(weekFlag string) (time.Time, error) {
	if weekFlag == "" {
		return deps.Now(), nil
	}
	ref, err := time.ParseInLocation("2006-01-02", weekFlag, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid week date %q: expected YYYY-MM-DD", weekFlag)
	}
	// Anchor mid-day so the date unambiguously lands inside its week.
	return ref.Add(12 * time.Hour), nil
}

// fail prints an error with an optional hint and exits non-zero.
func fail(err error, hint string) {
	_, _ = fmt.Fprintf(deps.Stderr, "Error: %v\n", err)
	if hint != "" {
		_, _ = fmt.Fprintf(deps.Stderr, "Hint: %s\n", hint)
	}
	deps.Exit(1)
}

// showStatus prints the current week's summary, or a pointer at the process
// command if the week has not been computed yet.
func showStatus() {
	pol, err := loadPolicy()
	if err != nil {
		fail(err, "Check the config file with 'billable config'")
		return
	}
	window, err := pol.Window(deps.Now())
	if err != nil {
		fail(err, "")
		return
	}

	st, err := openStore()
	if err != nil {
		fail(err, "Check that the data directory is writable")
		return
	}
	defer st.Close()

	ctx := context.Background()
	summary, err := st.Summary(ctx, window.Start)
	if err != nil {
		fail(err, "")
		return
	}

	_, _ = fmt.Fprintf(deps.Stdout, "Work week: %s -> %s\n",
		window.Start.Format("Mon 02 Jan 15:04"), window.End.Format("Mon 02 Jan 15:04"))

	if summary == nil {
		_, _ = fmt.Fprintln(deps.Stdout, "Week not processed yet. Run 'billable process'.")
		return
	}

	_, _ = fmt.Fprintln(deps.Stdout, strings.Repeat("-", 50))
	_, _ = fmt.Fprintf(deps.Stdout, "Total hours:  %.1f (target %.1f)\n", summary.TotalHours, pol.TargetHours)
	_, _ = fmt.Fprintf(deps.Stdout, "Hours filled: %.1f\n", summary.Metadata.HoursFilled)
	_, _ = fmt.Fprintf(deps.Stdout, "Carry-over:   %.1f\n", summary.Metadata.CarryOverHours)
	if summary.Metadata.SkippedEvents > 0 {
		_, _ = fmt.Fprintf(deps.Stdout, "Skipped:      %d malformed event(s)\n", summary.Metadata.SkippedEvents)
	}
}
