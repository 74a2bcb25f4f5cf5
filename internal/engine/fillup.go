package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/xolan/billable/internal/block"
	"github.com/xolan/billable/internal/config"
	"github.com/xolan/billable/internal/event"
	"github.com/xolan/billable/internal/timeutil"
)

// FillState tracks the fill-up engine through one run.
// Idle → Triggered → Computed → Committed; Committed is terminal and set by
// the pipeline once the week has been persisted.
type FillState int

const (
	FillIdle FillState = iota
	FillTriggered
	FillComputed
	FillCommitted
)

func (s FillState) String() string {
	switch s {
	case FillIdle:
		return "idle"
	case FillTriggered:
		return "triggered"
	case FillComputed:
		return "computed"
	case FillCommitted:
		return "committed"
	}
	return "unknown"
}

// FillResult is the outcome of the fill-up stage. CarryOver is the updated
// ledger value to persist with the week; it only ever grows, bounded by the
// configured cap.
type FillResult struct {
	State         FillState
	Blocks        []block.TimeBlock
	HoursFilled   float64
	UnfilledHours float64
	CarryOver     float64
}

// FillUp computes the shortfall against the weekly target and synthesizes
// fill blocks per the distribution policy. It never subtracts: when tracked
// hours exceed the target the excess feeds the carry-over ledger up to the
// configured cap and any further excess is discarded.
//
// The stage triggers when auto-fill is enabled and the run's reference day
// matches the configured fill day, or when forced by the caller.
func FillUp(resolved []block.TimeBlock, totals Totals, window timeutil.Window, pol config.Policy, prevCarryOver float64, ref time.Time, force bool) (FillResult, error) {
	res := FillResult{State: FillIdle, CarryOver: prevCarryOver}

	if !force && !(pol.AutoFill && ref.Weekday() == pol.AutoFillDay) {
		return res, nil
	}
	res.State = FillTriggered

	shortfall := pol.TargetHours - totals.Hours
	if shortfall <= 0 {
		excess := -shortfall
		res.CarryOver = math.Min(prevCarryOver+excess, pol.MaxCarryOver)
		res.State = FillComputed
		return res, nil
	}

	needSlots := int(math.Ceil(shortfall*2 - 1e-9))
	desc := fmt.Sprintf("Development: %s", fillTopic(resolved, pol))

	var placed int
	var err error
	switch pol.Distribution {
	case config.DistributeEndOfWeek:
		res.Blocks, placed = fillEndOfWeek(window, needSlots, desc)
	case config.DistributeAcrossDays:
		res.Blocks, placed = fillAcrossDays(window, needSlots, desc)
	case config.DistributeEmptySlots:
		res.Blocks, placed = fillEmptySlots(window, resolved, needSlots, desc)
	default:
		err = fmt.Errorf("unknown fill distribution %q", pol.Distribution)
	}
	if err != nil {
		return res, err
	}

	res.HoursFilled = block.HoursFromSlots(placed)
	res.UnfilledHours = block.HoursFromSlots(needSlots - placed)
	res.State = FillComputed
	return res, nil
}

// fillTopic selects the topic for synthetic block descriptions.
func fillTopic(resolved []block.TimeBlock, pol config.Policy) string {
	switch pol.TopicMode {
	case config.TopicAuto:
		// The description carrying the most tracked hours this week wins;
		// ties break lexicographically for deterministic reruns.
		hours := make(map[string]float64)
		for _, b := range resolved {
			hours[b.Description] += b.DurationHours
		}
		topic, best := pol.DefaultTopic, 0.0
		keys := make([]string, 0, len(hours))
		for k := range hours {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k != "" && hours[k] > best {
				topic, best = k, hours[k]
			}
		}
		return topic
	case config.TopicManual, config.TopicGeneric:
		return pol.DefaultTopic
	}
	return pol.DefaultTopic
}

// fillEndOfWeek places one aggregate block ending at the window's end
// boundary (floored to the half-hour grid if the boundary is unaligned).
func fillEndOfWeek(window timeutil.Window, needSlots int, desc string) ([]block.TimeBlock, int) {
	loc := window.Start.Location()
	end := timeutil.FloorToBlock(window.End)
	start := end.Add(-time.Duration(needSlots) * block.SlotMinutes * time.Minute)
	return []block.TimeBlock{fillBlock(window.Start, start, needSlots, desc, loc)}, needSlots
}

// fillAcrossDays spreads the shortfall in equal 0.5h-aligned portions across
// the window's work days, remainder on the last day. Portions sit at 17:00
// local time; days whose placement would fall outside the window are skipped,
// falling back to end-of-week placement if none remain.
func fillAcrossDays(window timeutil.Window, needSlots int, desc string) ([]block.TimeBlock, int) {
	loc := window.Start.Location()

	var days []time.Time
	for _, day := range window.Days() {
		at := time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, loc)
		if !at.Before(window.Start) && at.Before(window.End) {
			days = append(days, at)
		}
	}
	if len(days) == 0 {
		return fillEndOfWeek(window, needSlots, desc)
	}

	base := needSlots / len(days)
	rem := needSlots % len(days)

	var blocks []block.TimeBlock
	for i, at := range days {
		portion := base
		if i == len(days)-1 {
			portion += rem
		}
		if portion == 0 {
			continue
		}
		blocks = append(blocks, fillBlock(window.Start, at, portion, desc, loc))
	}
	return blocks, needSlots
}

// fillEmptySlots fills zero-coverage half-hour slots inside the window in
// chronological order until the shortfall is exhausted or the window runs out
// of free slots. The unfilled remainder is reported, not silently dropped.
func fillEmptySlots(window timeutil.Window, resolved []block.TimeBlock, needSlots int, desc string) ([]block.TimeBlock, int) {
	loc := window.Start.Location()

	covered := make(map[block.Slot]bool)
	for _, b := range resolved {
		for _, s := range b.Slots() {
			covered[s] = true
		}
	}

	first := block.SlotAt(window.Start)
	if first.Start(loc).Before(window.Start) {
		first++
	}

	var free []block.Slot
	for s := first; len(free) < needSlots && !s.End(loc).After(window.End); s++ {
		if !covered[s] {
			free = append(free, s)
		}
	}

	// Coalesce consecutive free slots into aggregate blocks.
	var blocks []block.TimeBlock
	var run []block.Slot
	flush := func() {
		if len(run) == 0 {
			return
		}
		blocks = append(blocks, fillBlock(window.Start, run[0].Start(loc), len(run), desc, loc))
		run = nil
	}
	for _, s := range free {
		if len(run) > 0 && s != run[len(run)-1]+1 {
			flush()
		}
		run = append(run, s)
	}
	flush()

	return blocks, len(free)
}

func fillBlock(weekStart, start time.Time, slots int, desc string, loc *time.Location) block.TimeBlock {
	return block.TimeBlock{
		WeekStart:     weekStart,
		Start:         start.In(loc),
		End:           start.Add(time.Duration(slots) * block.SlotMinutes * time.Minute).In(loc),
		Source:        event.SourceFill,
		Description:   desc,
		DurationHours: block.HoursFromSlots(slots),
		Metadata:      map[string]string{"auto_generated": "true"},
	}
}
