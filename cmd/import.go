package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/xolan/billable/internal/event"
)

// importCmd ingests raw events from a JSON Lines file, one event object per
// line. Malformed lines are reported and skipped; valid events are upserted
// by their (source, source_id) natural key.
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Ingest raw events from a JSON Lines file",
	Long: `Import reads one JSON event object per line:

  {"source":"tracked-time","source_id":"t-1","timestamp":"2026-01-05T10:00:00Z","duration_minutes":120,"description":"coding"}

Re-importing the same file is safe: events sharing a (source, source_id) key
update in place. Imported events are raw input only; run 'billable process'
afterwards to derive the week's blocks.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runImport(args[0])
	},
}

func runImport(path string) {
	f, err := os.Open(path)
	if err != nil {
		fail(fmt.Errorf("open import file: %w", err), "")
		return
	}
	defer f.Close()

	st, err := openStore()
	if err != nil {
		fail(err, "Check that the data directory is writable")
		return
	}
	defer st.Close()

	ctx := context.Background()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var imported, skipped, lineNo int
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev event.RawEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			_, _ = fmt.Fprintf(deps.Stderr, "Warning: line %d: invalid JSON: %v\n", lineNo, err)
			skipped++
			continue
		}
		if reason := validateImport(ev); reason != "" {
			_, _ = fmt.Fprintf(deps.Stderr, "Warning: line %d: %s\n", lineNo, reason)
			skipped++
			continue
		}

		if err := st.UpsertRawEvent(ctx, ev); err != nil {
			fail(err, "The import stopped; already-stored events are kept")
			return
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		fail(fmt.Errorf("read import file: %w", err), "")
		return
	}

	_, _ = fmt.Fprintf(deps.Stdout, "Imported %d event(s)", imported)
	if skipped > 0 {
		_, _ = fmt.Fprintf(deps.Stdout, ", skipped %d", skipped)
	}
	_, _ = fmt.Fprintln(deps.Stdout)
	if imported > 0 {
		_, _ = fmt.Fprintln(deps.Stdout, "Run 'billable process' to derive blocks.")
	}
}

// validateImport rejects events the pipeline would only skip later, so the
// problem surfaces at import time with a line number attached.
func validateImport(ev event.RawEvent) string {
	switch {
	case !ev.Source.Valid():
		return fmt.Sprintf("unknown source %q", ev.Source)
	case ev.SourceID == "":
		return "missing source_id"
	case ev.Timestamp.IsZero():
		return "missing or zero timestamp"
	case ev.DurationMinutes < 0:
		return fmt.Sprintf("negative duration %d", ev.DurationMinutes)
	}
	return ""
}
