package engine

import (
	"testing"
	"time"

	"github.com/xolan/billable/internal/config"
	"github.com/xolan/billable/internal/event"
)

// quantizeIntervals runs the grid mapping with round-up so overlap tests can
// build coverage straight from intervals.
func quantizeIntervals(t *testing.T, intervals []Interval) []Quantized {
	t.Helper()
	qs, err := Quantize(intervals, config.RoundUp)
	if err != nil {
		t.Fatalf("Quantize() error = %v", err)
	}
	return qs
}

func sourcedInterval(source event.Source, id string, start time.Time, minutes int, desc string) Interval {
	return Interval{
		Source:      source,
		SourceID:    id,
		Priority:    source.Priority(),
		Start:       start,
		End:         start.Add(time.Duration(minutes) * time.Minute),
		Description: desc,
	}
}

func TestResolve_PriorityDropsLowerSource(t *testing.T) {
	window := testWindow()
	at := window.Start.Add(time.Hour)

	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceTrackedTime, "t-1", at, 30, "coding"),
		sourcedInterval(event.SourceCalendar, "c-1", at, 30, "standup"),
	})

	blocks, err := Resolve(qs, config.OverlapPriority, window.Start, discardLogger())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, expected exactly 1", len(blocks))
	}
	if blocks[0].Source != event.SourceTrackedTime {
		t.Errorf("Source = %v, expected tracked-time", blocks[0].Source)
	}
	if blocks[0].DurationHours != 0.5 {
		t.Errorf("DurationHours = %v, expected 0.5", blocks[0].DurationHours)
	}
}

func TestResolve_PriorityTieBreaksOnSourceID(t *testing.T) {
	// repo-activity and custom share the same weight; the lowest source_id
	// wins so reruns are deterministic.
	window := testWindow()
	at := window.Start.Add(time.Hour)

	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceCustom, "b-99", at, 30, "manual entry"),
		sourcedInterval(event.SourceRepoActivity, "a-01", at, 30, "pushed commits"),
	})

	blocks, err := Resolve(qs, config.OverlapPriority, window.Start, discardLogger())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, expected 1", len(blocks))
	}
	if blocks[0].Source != event.SourceRepoActivity {
		t.Errorf("Source = %v, expected repo-activity (source_id a-01 < b-99)", blocks[0].Source)
	}
}

func TestResolve_PartialOverlapKeepsNonContestedSlots(t *testing.T) {
	window := testWindow()
	at := window.Start.Add(time.Hour)

	// Tracked time covers two slots; the calendar event only contests the
	// first. The second calendar slot does not exist, so the tracked block
	// survives whole.
	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceTrackedTime, "t-1", at, 60, "coding"),
		sourcedInterval(event.SourceCalendar, "c-1", at, 30, "standup"),
	})

	blocks, err := Resolve(qs, config.OverlapPriority, window.Start, discardLogger())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, expected 1", len(blocks))
	}
	if blocks[0].DurationHours != 1.0 {
		t.Errorf("DurationHours = %v, expected 1.0", blocks[0].DurationHours)
	}
}

func TestResolve_ContiguousSlotsCoalesce(t *testing.T) {
	window := testWindow()
	at := window.Start.Add(time.Hour)

	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceTrackedTime, "t-1", at, 120, "coding"),
	})

	blocks, err := Resolve(qs, config.OverlapPriority, window.Start, discardLogger())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, expected a single coalesced block", len(blocks))
	}
	if blocks[0].DurationHours != 2.0 {
		t.Errorf("DurationHours = %v, expected 2.0", blocks[0].DurationHours)
	}
	if got := blocks[0].End.Sub(blocks[0].Start); got != 2*time.Hour {
		t.Errorf("span = %v, expected 2h", got)
	}
}

func TestResolve_GapSplitsBlocks(t *testing.T) {
	window := testWindow()
	morning := window.Start.Add(time.Hour)
	afternoon := window.Start.Add(4 * time.Hour)

	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceTrackedTime, "t-1", morning, 30, "coding"),
		sourcedInterval(event.SourceTrackedTime, "t-1", afternoon, 30, "coding"),
	})

	blocks, err := Resolve(qs, config.OverlapPriority, window.Start, discardLogger())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, expected 2 (non-adjacent slots never coalesce)", len(blocks))
	}
}

func TestResolve_ShowBothKeepsAllEntries(t *testing.T) {
	window := testWindow()
	at := window.Start.Add(time.Hour)

	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceTrackedTime, "t-1", at, 30, "coding"),
		sourcedInterval(event.SourceCalendar, "c-1", at, 30, "standup"),
	})

	blocks, err := Resolve(qs, config.OverlapShowBoth, window.Start, discardLogger())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, expected 2", len(blocks))
	}
	// show_both double-counts the contested slot.
	total := blocks[0].DurationHours + blocks[1].DurationHours
	if total != 1.0 {
		t.Errorf("total hours = %v, expected 1.0", total)
	}
}

func TestResolve_CombineMergesDescriptions(t *testing.T) {
	window := testWindow()
	at := window.Start.Add(time.Hour)

	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceTrackedTime, "t-1", at, 30, "coding"),
		sourcedInterval(event.SourceCalendar, "c-1", at, 30, "standup"),
	})

	blocks, err := Resolve(qs, config.OverlapCombine, window.Start, discardLogger())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, expected 1", len(blocks))
	}
	if blocks[0].Description != "coding during standup" {
		t.Errorf("Description = %q, expected \"coding during standup\"", blocks[0].Description)
	}
	if blocks[0].Source != event.SourceTrackedTime {
		t.Errorf("Source = %v, expected the primary tracked-time", blocks[0].Source)
	}
	if got := blocks[0].Metadata["combined_with"]; got != "calendar" {
		t.Errorf("combined_with = %q, expected \"calendar\"", got)
	}
}

func TestResolve_CombineThreeClaimants(t *testing.T) {
	window := testWindow()
	at := window.Start.Add(time.Hour)

	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceTrackedTime, "t-1", at, 30, "coding"),
		sourcedInterval(event.SourceCalendar, "c-1", at, 30, "standup"),
		sourcedInterval(event.SourceMail, "m-1", at, 30, "replied to client"),
	})

	blocks, err := Resolve(qs, config.OverlapCombine, window.Start, discardLogger())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, expected 1", len(blocks))
	}
	if want := "coding during standup, replied to client"; blocks[0].Description != want {
		t.Errorf("Description = %q, expected %q", blocks[0].Description, want)
	}
}

func TestResolve_UnknownMode(t *testing.T) {
	window := testWindow()
	qs := quantizeIntervals(t, []Interval{
		sourcedInterval(event.SourceTrackedTime, "t-1", window.Start.Add(time.Hour), 30, "coding"),
	})

	if _, err := Resolve(qs, config.OverlapMode("merge"), window.Start, discardLogger()); err == nil {
		t.Error("Resolve() expected error for unknown mode, got nil")
	}
}
