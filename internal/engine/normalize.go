package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xolan/billable/internal/event"
	"github.com/xolan/billable/internal/timeutil"
)

// Interval is a validated activity interval tagged with its source priority,
// clipped to the work-week window.
type Interval struct {
	Source      event.Source
	SourceID    string
	Priority    int
	Start       time.Time
	End         time.Time
	Description string
	Metadata    map[string]string
}

// ValidationError reports a malformed raw event. The event is skipped and
// counted; the run continues.
type ValidationError struct {
	Event  event.RawEvent
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event %s/%s: %s", e.Event.Source, e.Event.SourceID, e.Reason)
}

// Normalize validates raw events and converts them into priority-tagged
// intervals. Malformed events (negative duration, missing timestamp) are
// dropped and counted. Events entirely outside the window are discarded;
// events partially outside are clipped to the window boundary.
func Normalize(events []event.RawEvent, window timeutil.Window, logger *slog.Logger) ([]Interval, int) {
	intervals := make([]Interval, 0, len(events))
	skipped := 0

	for _, ev := range events {
		if err := validate(ev); err != nil {
			skipped++
			logger.Warn("skipping malformed event",
				"source", ev.Source, "source_id", ev.SourceID, "reason", err.Reason)
			continue
		}

		start, end := ev.Timestamp, ev.End()
		if start.Before(window.Start) {
			start = window.Start
		}
		if end.After(window.End) {
			end = window.End
		}
		// Zero-duration events are billable (minimum one block) as long as
		// they land inside the window; anything clipped away entirely belongs
		// to a different week's batch.
		if end.Before(start) || (end.Equal(start) && !window.Contains(ev.Timestamp)) {
			continue
		}
		if start.Equal(end) && ev.DurationMinutes > 0 {
			continue
		}

		intervals = append(intervals, Interval{
			Source:      ev.Source,
			SourceID:    ev.SourceID,
			Priority:    ev.Source.Priority(),
			Start:       start,
			End:         end,
			Description: ev.Description,
			Metadata:    ev.Metadata,
		})
	}

	// Stable processing order: chronological, then by natural key.
	sort.SliceStable(intervals, func(i, j int) bool {
		if !intervals[i].Start.Equal(intervals[j].Start) {
			return intervals[i].Start.Before(intervals[j].Start)
		}
		if intervals[i].Source != intervals[j].Source {
			return intervals[i].Source < intervals[j].Source
		}
		return intervals[i].SourceID < intervals[j].SourceID
	})

	return intervals, skipped
}

func validate(ev event.RawEvent) *ValidationError {
	if ev.Timestamp.IsZero() {
		return &ValidationError{Event: ev, Reason: "missing timestamp"}
	}
	if ev.DurationMinutes < 0 {
		return &ValidationError{Event: ev, Reason: "negative duration"}
	}
	if !ev.Source.Valid() {
		return &ValidationError{Event: ev, Reason: fmt.Sprintf("unknown source %q", ev.Source)}
	}
	return nil
}
