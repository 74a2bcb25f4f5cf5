// Package event defines the raw activity records produced by the source
// fetchers and the fixed priority table used to resolve overlaps between them.
package event

import "time"

// Source identifies which tracker produced an activity record.
type Source string

const (
	SourceTrackedTime  Source = "tracked-time"
	SourceCalendar     Source = "calendar"
	SourceMail         Source = "mail"
	SourceRepoActivity Source = "repo-activity"
	SourceCustom       Source = "custom"
	// SourceFill marks synthetic blocks generated by the fill-up engine.
	// It never appears on raw events.
	SourceFill Source = "fill"
)

// priorities is the fixed source weighting used during overlap resolution.
// Higher wins. Not user-configurable.
var priorities = map[Source]int{
	SourceTrackedTime:  100,
	SourceCalendar:     80,
	SourceMail:         60,
	SourceRepoActivity: 40,
	SourceCustom:       40,
	SourceFill:         0,
}

// Priority returns the overlap-resolution weight for the source.
// Unknown sources get the lowest weight.
func (s Source) Priority() int {
	return priorities[s]
}

// Valid reports whether s is a known raw-event source.
// SourceFill is engine-internal and not valid on raw events.
func (s Source) Valid() bool {
	switch s {
	case SourceTrackedTime, SourceCalendar, SourceMail, SourceRepoActivity, SourceCustom:
		return true
	}
	return false
}

// RawEvent is one unprocessed activity record from a single source.
// Events are immutable once written; (Source, SourceID) is the natural key,
// so reprocessing the same fetcher output never creates duplicates.
type RawEvent struct {
	Source          Source            `json:"source"`
	SourceID        string            `json:"source_id"`
	Timestamp       time.Time         `json:"timestamp"`
	DurationMinutes int               `json:"duration_minutes"`
	Description     string            `json:"description"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// End returns the instant the event's activity interval ends.
func (e RawEvent) End() time.Time {
	return e.Timestamp.Add(time.Duration(e.DurationMinutes) * time.Minute)
}
