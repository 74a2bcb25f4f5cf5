package cmd

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/xolan/billable/internal/config"
)

// configCmd prints the effective configuration and where it came from.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Config prints the settings every processing run uses, merged from the
config file over the built-in defaults, plus the file's location. Edit the
file and re-run 'billable process'; changes apply to the next run.`,
	Run: func(cmd *cobra.Command, args []string) {
		runConfig()
	},
}

func runConfig() {
	path, err := deps.ConfigPath()
	if err != nil {
		fail(fmt.Errorf("determine config location: %w", err), "")
		return
	}

	cfg, err := config.Load(path)
	if err != nil {
		fail(err, "Fix or delete the file to fall back to defaults")
		return
	}

	if _, statErr := os.Stat(path); statErr == nil {
		_, _ = fmt.Fprintf(deps.Stdout, "Config file: %s\n\n", path)
	} else {
		_, _ = fmt.Fprintf(deps.Stdout, "Config file: %s (not present, using defaults)\n\n", path)
	}

	if err := toml.NewEncoder(deps.Stdout).Encode(cfg); err != nil {
		fail(fmt.Errorf("render configuration: %w", err), "")
	}
}
