package engine

import (
	"github.com/xolan/billable/internal/block"
)

// Totals is the week aggregate computed from the resolved block set. It is
// the sole input the fill-up engine uses to measure shortfall.
type Totals struct {
	Hours     float64
	PerSource map[string]float64
	Blocks    int
}

// Aggregate sums the duration of the final block list and breaks it down per
// source. It must only ever be fed already-resolved blocks, never the raw or
// unresolved set.
func Aggregate(blocks []block.TimeBlock) Totals {
	t := Totals{PerSource: make(map[string]float64)}
	for _, b := range blocks {
		t.Hours += b.DurationHours
		t.PerSource[string(b.Source)] += b.DurationHours
		t.Blocks++
	}
	return t
}
