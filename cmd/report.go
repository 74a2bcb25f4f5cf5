package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// reportCmd prints a processed week's blocks and per-source breakdown.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show a week's blocks and per-source breakdown",
	Run: func(cmd *cobra.Command, args []string) {
		weekFlag, _ := cmd.Flags().GetString("week")
		runReport(weekFlag)
	},
}

func runReport(weekFlag string) {
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
	window, err := pol.Window(ref)
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
	blocks, err := st.BlocksForWeek(ctx, window.Start)
	if err != nil {
		fail(err, "")
		return
	}
	summary, err := st.Summary(ctx, window.Start)
	if err != nil {
		fail(err, "")
		return
	}

	_, _ = fmt.Fprintf(deps.Stdout, "Week %s -> %s\n",
		window.Start.Format("Mon 02 Jan 15:04"), window.End.Format("Mon 02 Jan 15:04"))
	_, _ = fmt.Fprintln(deps.Stdout, strings.Repeat("-", 72))

	if len(blocks) == 0 {
		_, _ = fmt.Fprintln(deps.Stdout, "No blocks. Run 'billable process' first.")
		return
	}

	for _, b := range blocks {
		_, _ = fmt.Fprintf(deps.Stdout, "%-18s %-14s %5.1fh  %s\n",
			b.Start.Local().Format("Mon 02 Jan 15:04"), b.Source, b.DurationHours, b.Description)
	}
	_, _ = fmt.Fprintln(deps.Stdout, strings.Repeat("-", 72))

	if summary == nil {
		return
	}

	// Per-source breakdown, heaviest first.
	type sourceHours struct {
		source string
		hours  float64
	}
	breakdown := make([]sourceHours, 0, len(summary.Metadata.PerSource))
	for source, hours := range summary.Metadata.PerSource {
		breakdown = append(breakdown, sourceHours{source, hours})
	}
	sort.Slice(breakdown, func(i, j int) bool {
		if breakdown[i].hours != breakdown[j].hours {
			return breakdown[i].hours > breakdown[j].hours
		}
		return breakdown[i].source < breakdown[j].source
	})
	for _, sh := range breakdown {
		_, _ = fmt.Fprintf(deps.Stdout, "%-14s %5.1fh\n", sh.source, sh.hours)
	}

	_, _ = fmt.Fprintln(deps.Stdout, strings.Repeat("-", 72))
	_, _ = fmt.Fprintf(deps.Stdout, "Total: %.1fh  filled: %.1fh  carry-over: %.1fh\n",
		summary.TotalHours, summary.Metadata.HoursFilled, summary.Metadata.CarryOverHours)
	if summary.Metadata.UnfilledHours > 0 {
		_, _ = fmt.Fprintf(deps.Stdout, "Unfilled: %.1fh (window ran out of free slots)\n",
			summary.Metadata.UnfilledHours)
	}
}
