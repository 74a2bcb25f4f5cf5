package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/xolan/billable/internal/engine"
)

// processCmd is the manual trigger: process the work week containing the
// given date (or now) through the full pipeline.
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a work week into billable blocks",
	Long: `Process runs the full pipeline for one work week: raw events are
normalized, quantized onto the half-hour grid, overlap-resolved by source
priority, optionally grouped, aggregated, and topped up against the weekly
target. The week's derived blocks and summary are replaced atomically;
re-running with the same events and configuration is a no-op.`,
	Run: func(cmd *cobra.Command, args []string) {
		weekFlag, _ := cmd.Flags().GetString("week")
		forceFill, _ := cmd.Flags().GetBool("fill")
		runProcess(weekFlag, forceFill)
	},
}

func runProcess(weekFlag string, forceFill bool) {
	ref, err := resolveReference(weekFlag)
	if err != nil {
		fail(err, "")
		return
	}

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

	eng := engine.New(st, newLogger(slog.LevelWarn))
	result, err := eng.ProcessWeek(context.Background(), pol, engine.Options{
		Reference: ref,
		ForceFill: forceFill,
	})
	if err != nil {
		fail(err, "The prior week state is untouched; fix the cause and re-run")
		return
	}

	_, _ = fmt.Fprintf(deps.Stdout, "Processed week %s -> %s\n",
		result.WeekStart.Format("Mon 02 Jan 15:04"), result.WeekEnd.Format("Mon 02 Jan 15:04"))
	_, _ = fmt.Fprintf(deps.Stdout, "  raw events: %d (%d skipped)\n", result.RawEvents, result.SkippedEvents)
	_, _ = fmt.Fprintf(deps.Stdout, "  blocks:     %d\n", result.BlocksWritten)
	_, _ = fmt.Fprintf(deps.Stdout, "  total:      %.1fh\n", result.TotalHours)
	if result.FillState != engine.FillIdle {
		_, _ = fmt.Fprintf(deps.Stdout, "  filled:     %.1fh (carry-over %.1fh)\n",
			result.HoursFilled, result.CarryOverHours)
		if result.UnfilledHours > 0 {
			_, _ = fmt.Fprintf(deps.Stdout, "  unfilled:   %.1fh (no free slots left in window)\n",
				result.UnfilledHours)
		}
	}
}
