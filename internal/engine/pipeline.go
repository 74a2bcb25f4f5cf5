// Package engine implements the time block processing pipeline: it turns
// heterogeneous raw events into the canonical half-hour block set for one
// work week, resolving overlaps by source priority and topping up shortfall
// against the weekly target.
//
// The pipeline is a strict stage chain (normalize → quantize → resolve →
// group → aggregate → fill up) and is idempotent: re-running a week against
// the same raw events and policy snapshot replaces the derived set with an
// identical one.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xolan/billable/internal/block"
	"github.com/xolan/billable/internal/config"
	"github.com/xolan/billable/internal/event"
)

// Repository is the narrow persistence boundary the engine depends on.
// ReplaceWeek must be atomic: readers see either the complete prior week
// result or the complete new one, never a partial set.
type Repository interface {
	RawEventsInWindow(ctx context.Context, start, end time.Time) ([]event.RawEvent, error)
	LatestSummaryBefore(ctx context.Context, weekStart time.Time) (*block.WeekSummary, error)
	ReplaceWeek(ctx context.Context, weekStart time.Time, blocks []block.TimeBlock, summary block.WeekSummary) error
}

// Engine runs the processing pipeline against a repository. Safe for
// concurrent use; concurrent runs for the same week serialize on a per-week
// run lock.
type Engine struct {
	repo   Repository
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]chan struct{}
}

// New creates an Engine. A nil logger falls back to the default slog logger.
func New(repo Repository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		logger: logger,
		locks:  make(map[int64]chan struct{}),
	}
}

// Options control a single run.
type Options struct {
	// Reference is the instant the run is anchored to; the work week
	// containing it is the one processed. Zero means time.Now().
	Reference time.Time
	// ForceFill triggers the fill-up stage regardless of the configured
	// auto-fill day (manual runs).
	ForceFill bool
}

// Result reports one completed run.
type Result struct {
	WeekStart      time.Time
	WeekEnd        time.Time
	RawEvents      int
	SkippedEvents  int
	BlocksWritten  int
	TotalHours     float64
	HoursFilled    float64
	UnfilledHours  float64
	CarryOverHours float64
	FillState      FillState
}

// ProcessWeek runs the full pipeline for the work week containing the
// reference instant and atomically replaces the week's derived state.
// The policy snapshot is taken by the caller at run start and never mutated.
func (e *Engine) ProcessWeek(ctx context.Context, pol config.Policy, opts Options) (*Result, error) {
	ref := opts.Reference
	if ref.IsZero() {
		ref = time.Now()
	}

	window, err := pol.Window(ref)
	if err != nil {
		return nil, err
	}
	weekStart := window.Start

	release, err := e.lockWeek(ctx, weekStart)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock for week %s: %w", weekStart.Format("2006-01-02"), err)
	}
	defer release()

	logger := e.logger.With("week_start", weekStart.Format(time.RFC3339))
	logger.Info("processing week", "window_end", window.End.Format(time.RFC3339))

	events, err := e.repo.RawEventsInWindow(ctx, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("read raw events: %w", err)
	}

	intervals, skipped := Normalize(events, window, logger)

	quantized, err := Quantize(intervals, pol.Rounding)
	if err != nil {
		return nil, err
	}

	resolved, err := Resolve(quantized, pol.Overlap, weekStart, logger)
	if err != nil {
		return nil, err
	}

	grouped := Group(resolved, pol.Group)

	totals := Aggregate(grouped)

	prevCarryOver := 0.0
	if prev, err := e.repo.LatestSummaryBefore(ctx, weekStart); err != nil {
		return nil, fmt.Errorf("read carry-over ledger: %w", err)
	} else if prev != nil {
		prevCarryOver = prev.Metadata.CarryOverHours
	}

	// The fill stage works from the ungrouped set: grouped entries span the
	// gaps between their merged blocks, so their Start/End no longer describe
	// slot coverage.
	fill, err := FillUp(resolved, totals, window, pol, prevCarryOver, ref, opts.ForceFill)
	if err != nil {
		return nil, err
	}

	final := append(grouped, fill.Blocks...)
	sortBlocks(final)
	finalTotals := Aggregate(final)

	summary := block.WeekSummary{
		WeekStart:  weekStart,
		TotalHours: finalTotals.Hours,
		Metadata: block.SummaryMetadata{
			WeekEnd:        window.End,
			HoursFilled:    fill.HoursFilled,
			UnfilledHours:  fill.UnfilledHours,
			CarryOverHours: fill.CarryOver,
			SkippedEvents:  skipped,
			PerSource:      finalTotals.PerSource,
		},
	}

	// Cancellation aborts before the commit step; nothing partial was
	// externally visible, so in-memory results are simply discarded.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.repo.ReplaceWeek(ctx, weekStart, final, summary); err != nil {
		return nil, fmt.Errorf("persist week: %w", err)
	}
	if fill.State == FillComputed {
		fill.State = FillCommitted
	}

	logger.Info("week processed",
		"raw_events", len(events),
		"skipped_events", skipped,
		"blocks", len(final),
		"total_hours", finalTotals.Hours,
		"hours_filled", fill.HoursFilled,
		"carry_over_hours", fill.CarryOver,
		"fill_state", fill.State.String())

	return &Result{
		WeekStart:      weekStart,
		WeekEnd:        window.End,
		RawEvents:      len(events),
		SkippedEvents:  skipped,
		BlocksWritten:  len(final),
		TotalHours:     finalTotals.Hours,
		HoursFilled:    fill.HoursFilled,
		UnfilledHours:  fill.UnfilledHours,
		CarryOverHours: fill.CarryOver,
		FillState:      fill.State,
	}, nil
}

// lockWeek serializes runs for the same week. Acquisition honors the context
// deadline so a stuck run cannot block later invocations forever; the
// returned release function must run on every exit path.
func (e *Engine) lockWeek(ctx context.Context, weekStart time.Time) (func(), error) {
	key := weekStart.Unix()
	for {
		e.mu.Lock()
		ch, held := e.locks[key]
		if !held {
			done := make(chan struct{})
			e.locks[key] = done
			e.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					e.mu.Lock()
					delete(e.locks, key)
					e.mu.Unlock()
					close(done)
				})
			}, nil
		}
		e.mu.Unlock()

		select {
		case <-ch:
			// Holder finished; retry.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
