package engine

import (
	"github.com/xolan/billable/internal/block"
	"github.com/xolan/billable/internal/timeutil"
)

type groupKey struct {
	day         string
	source      string
	description string
}

// Group merges blocks sharing the same calendar date, source and description
// into a single entry with summed hours and the earliest start. Runs after
// overlap resolution; disabled by default, which preserves one entry per
// original tracked interval.
//
// A merged entry spans the gaps between its blocks, so its Start/End no
// longer describe slot coverage; coverage-sensitive consumers must use the
// ungrouped set.
func Group(blocks []block.TimeBlock, enabled bool) []block.TimeBlock {
	if !enabled || len(blocks) == 0 {
		return blocks
	}

	merged := make(map[groupKey]*block.TimeBlock)
	order := make([]groupKey, 0, len(blocks))

	for _, b := range blocks {
		key := groupKey{
			day:         timeutil.StartOfDay(b.Start).Format("2006-01-02"),
			source:      string(b.Source),
			description: b.Description,
		}
		existing, ok := merged[key]
		if !ok {
			copied := b
			merged[key] = &copied
			order = append(order, key)
			continue
		}
		existing.DurationHours += b.DurationHours
		if b.Start.Before(existing.Start) {
			existing.Start = b.Start
		}
		if b.End.After(existing.End) {
			existing.End = b.End
		}
		for k, v := range b.Metadata {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]string)
			}
			existing.Metadata[k] = v
		}
	}

	out := make([]block.TimeBlock, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	sortBlocks(out)
	return out
}
