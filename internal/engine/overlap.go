package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xolan/billable/internal/block"
	"github.com/xolan/billable/internal/config"
	"github.com/xolan/billable/internal/event"
)

// claim is one quantized interval's stake on a single half-hour slot.
type claim struct {
	q *Quantized
}

// attribution is what a slot resolves to: exactly one retained entry under
// priority/combine, one per claimant under show_both. Slots with equal
// attribution keys coalesce into aggregate blocks.
type attribution struct {
	key         string
	source      event.Source
	description string
	metadata    map[string]string
}

// Resolve applies the overlap policy per half-hour slot and coalesces
// contiguous same-attribution slots into aggregate time blocks.
func Resolve(qs []Quantized, mode config.OverlapMode, weekStart time.Time, logger *slog.Logger) ([]block.TimeBlock, error) {
	loc := weekStart.Location()

	if mode == config.OverlapShowBoth {
		// Every quantized interval is retained as its own entry; slot totals
		// may double-count under this mode.
		blocks := make([]block.TimeBlock, 0, len(qs))
		for i := range qs {
			q := &qs[i]
			blocks = append(blocks, slotsToBlock(weekStart, q.Slots, q.Source, q.Description, q.Metadata, loc))
		}
		sortBlocks(blocks)
		return blocks, nil
	}

	// Gather claims per slot, ordered by priority (desc) then natural key so
	// ties resolve to the earliest-created event.
	claims := make(map[block.Slot][]claim)
	for i := range qs {
		q := &qs[i]
		for _, s := range q.Slots {
			claims[s] = append(claims[s], claim{q: q})
		}
	}
	slots := make([]block.Slot, 0, len(claims))
	for s := range claims {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	var blocks []block.TimeBlock
	var run []block.Slot
	var current attribution

	flush := func() {
		if len(run) == 0 {
			return
		}
		blocks = append(blocks, slotsToBlock(weekStart, run, current.source, current.description, current.metadata, loc))
		run = nil
	}

	for _, s := range slots {
		cs := claims[s]
		sort.SliceStable(cs, func(i, j int) bool {
			a, b := cs[i].q, cs[j].q
			if a.Priority != b.Priority {
				return a.Priority > b.Priority
			}
			if a.SourceID != b.SourceID {
				return a.SourceID < b.SourceID
			}
			return a.Source < b.Source
		})

		var att attribution
		switch mode {
		case config.OverlapPriority:
			winner := cs[0].q
			for _, dropped := range cs[1:] {
				logger.Debug("slot overlap resolved by priority",
					"slot", s.Start(loc), "kept", winner.Source, "dropped", dropped.q.Source)
			}
			att = attribution{
				key:         attributionKey(winner.Source, winner.SourceID, winner.Description),
				source:      winner.Source,
				description: winner.Description,
				metadata:    winner.Metadata,
			}
		case config.OverlapCombine:
			att = combineClaims(cs)
		default:
			return nil, fmt.Errorf("unknown overlap mode %q", mode)
		}

		if len(run) > 0 && att.key == current.key && s == run[len(run)-1]+1 {
			run = append(run, s)
			continue
		}
		flush()
		current = att
		run = []block.Slot{s}
	}
	flush()

	sortBlocks(blocks)
	return blocks, nil
}

// combineClaims merges a slot's claimants into a single retained entry whose
// description is "{primary} during {secondary}", primary being the
// highest-priority claim.
func combineClaims(cs []claim) attribution {
	primary := cs[0].q
	if len(cs) == 1 {
		return attribution{
			key:         attributionKey(primary.Source, primary.SourceID, primary.Description),
			source:      primary.Source,
			description: primary.Description,
			metadata:    primary.Metadata,
		}
	}

	secondary := make([]string, 0, len(cs)-1)
	sources := make([]string, 0, len(cs)-1)
	for _, c := range cs[1:] {
		secondary = append(secondary, c.q.Description)
		sources = append(sources, string(c.q.Source))
	}
	desc := fmt.Sprintf("%s during %s", primary.Description, strings.Join(secondary, ", "))

	metadata := make(map[string]string, len(primary.Metadata)+1)
	for k, v := range primary.Metadata {
		metadata[k] = v
	}
	metadata["combined_with"] = strings.Join(sources, ",")

	return attribution{
		key:         attributionKey(primary.Source, primary.SourceID, desc),
		source:      primary.Source,
		description: desc,
		metadata:    metadata,
	}
}

func attributionKey(source event.Source, sourceID, description string) string {
	return string(source) + "\x00" + sourceID + "\x00" + description
}

func slotsToBlock(weekStart time.Time, slots []block.Slot, source event.Source, description string, metadata map[string]string, loc *time.Location) block.TimeBlock {
	return block.TimeBlock{
		WeekStart:     weekStart,
		Start:         slots[0].Start(loc),
		End:           slots[len(slots)-1].End(loc),
		Source:        source,
		Description:   description,
		DurationHours: block.HoursFromSlots(len(slots)),
		Metadata:      metadata,
	}
}

func sortBlocks(blocks []block.TimeBlock) {
	sort.SliceStable(blocks, func(i, j int) bool {
		if !blocks[i].Start.Equal(blocks[j].Start) {
			return blocks[i].Start.Before(blocks[j].Start)
		}
		if blocks[i].Source != blocks[j].Source {
			return blocks[i].Source < blocks[j].Source
		}
		return blocks[i].Description < blocks[j].Description
	})
}
