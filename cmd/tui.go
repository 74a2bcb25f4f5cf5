package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/xolan/billable/internal/tui"
)

// tuiCmd opens the interactive week dashboard.
var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the interactive week dashboard",
	Run: func(cmd *cobra.Command, args []string) {
		weekFlag, _ := cmd.Flags().GetString("week")
		runTUI(weekFlag)
	},
}

func runTUI(weekFlag string) {
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

	p := tea.NewProgram(tui.New(st, window.Start), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fail(err, "")
	}
}
