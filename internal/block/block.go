// Package block defines the half-hour billable units the processing engine
// produces, the per-week summary, and slot arithmetic on the half-hour grid.
package block

import (
	"time"

	"github.com/xolan/billable/internal/event"
)

// SlotMinutes is the grid granularity. Every persisted duration is a
// multiple of half a slot-hour (0.5h).
const SlotMinutes = 30

// Slot is an index on the global half-hour grid (Unix time / 30min).
type Slot int64

// SlotAt returns the slot containing t (floor).
func SlotAt(t time.Time) Slot {
	return Slot(t.Unix() / (SlotMinutes * 60))
}

// Start returns the slot's start instant in the given location.
func (s Slot) Start(loc *time.Location) time.Time {
	return time.Unix(int64(s)*SlotMinutes*60, 0).In(loc)
}

// End returns the slot's end instant (start of the next slot).
func (s Slot) End(loc *time.Location) time.Time {
	return Slot(s + 1).Start(loc)
}

// HoursFromSlots converts a slot count to hours.
func HoursFromSlots(n int) float64 {
	return float64(n) / 2
}

// TimeBlock is a 30-minute-aligned billable unit attributed to one source.
// Start and End span the whole block run; DurationHours is always a multiple
// of 0.5 and equals End.Sub(Start) in hours.
type TimeBlock struct {
	WeekStart     time.Time         `json:"week_start"`
	Start         time.Time         `json:"block_start"`
	End           time.Time         `json:"block_end"`
	Source        event.Source      `json:"source"`
	Description   string            `json:"description"`
	DurationHours float64           `json:"duration_hours"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Slots returns the half-hour slots the block covers. It assumes the block
// covers consecutive slots from Start; entries merged across gaps by the
// activity grouper do not satisfy that.
func (b TimeBlock) Slots() []Slot {
	first := SlotAt(b.Start)
	n := int(b.DurationHours * 2)
	slots := make([]Slot, 0, n)
	for i := 0; i < n; i++ {
		slots = append(slots, first+Slot(i))
	}
	return slots
}

// SummaryMetadata is the auxiliary week bookkeeping persisted alongside the
// total. CarryOverHours is the cumulative ledger of hours worked above target,
// carried from week to week and capped by configuration.
type SummaryMetadata struct {
	WeekEnd        time.Time          `json:"week_end"`
	HoursFilled    float64            `json:"hours_filled"`
	UnfilledHours  float64            `json:"unfilled_hours,omitempty"`
	CarryOverHours float64            `json:"carry_over_hours"`
	SkippedEvents  int                `json:"skipped_events,omitempty"`
	PerSource      map[string]float64 `json:"per_source,omitempty"`
}

// WeekSummary is the per-week aggregate. TotalHours equals the sum of
// DurationHours over all persisted blocks whose Start falls in
// [WeekStart, Metadata.WeekEnd).
type WeekSummary struct {
	WeekStart  time.Time       `json:"week_start"`
	TotalHours float64         `json:"total_hours"`
	Metadata   SummaryMetadata `json:"metadata"`
}
