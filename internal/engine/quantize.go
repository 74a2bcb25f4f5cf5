package engine

import (
	"fmt"
	"time"

	"github.com/xolan/billable/internal/block"
	"github.com/xolan/billable/internal/config"
	"github.com/xolan/billable/internal/timeutil"
)

// Quantized is an interval mapped onto the half-hour grid: its start floored
// to the enclosing slot boundary and its duration rounded to whole slots.
type Quantized struct {
	Interval
	Slots []block.Slot // consecutive, at least one
}

// Quantize maps each interval onto the half-hour grid under the configured
// rounding mode. The sum of emitted slot durations equals the rounded
// duration; slot coverage is what the overlap resolver operates on.
func Quantize(intervals []Interval, mode config.RoundingMode) ([]Quantized, error) {
	out := make([]Quantized, 0, len(intervals))
	for _, iv := range intervals {
		minutes := int(iv.End.Sub(iv.Start) / time.Minute)
		n, err := slotCount(minutes, mode)
		if err != nil {
			return nil, err
		}
		first := block.SlotAt(timeutil.FloorToBlock(iv.Start))
		slots := make([]block.Slot, n)
		for i := range slots {
			slots[i] = first + block.Slot(i)
		}
		out = append(out, Quantized{Interval: iv, Slots: slots})
	}
	return out, nil
}

// slotCount converts a duration in minutes into whole half-hour slots.
// Degenerate zero-duration events still take one slot: the minimum billable
// granularity is half an hour.
func slotCount(minutes int, mode config.RoundingMode) (int, error) {
	var n int
	switch mode {
	case config.RoundUp:
		n = (minutes + block.SlotMinutes - 1) / block.SlotMinutes
	case config.RoundNearest:
		// Ties at odd multiples of 15 minutes round up.
		n = (minutes + block.SlotMinutes/2) / block.SlotMinutes
	default:
		return 0, fmt.Errorf("unknown rounding mode %q", mode)
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}
