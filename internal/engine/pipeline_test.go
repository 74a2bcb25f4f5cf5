package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/xolan/billable/internal/block"
	"github.com/xolan/billable/internal/config"
	"github.com/xolan/billable/internal/event"
	"github.com/xolan/billable/internal/timeutil"
)

// fakeRepo is an in-memory Repository capturing what the pipeline persists.
type fakeRepo struct {
	events []event.RawEvent
	prev   *block.WeekSummary

	savedBlocks  []block.TimeBlock
	savedSummary *block.WeekSummary
	replaceCalls int
	replaceErr   error
}

func (r *fakeRepo) RawEventsInWindow(ctx context.Context, start, end time.Time) ([]event.RawEvent, error) {
	var out []event.RawEvent
	for _, ev := range r.events {
		if ev.End().After(start) && ev.Timestamp.Before(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) LatestSummaryBefore(ctx context.Context, weekStart time.Time) (*block.WeekSummary, error) {
	return r.prev, nil
}

func (r *fakeRepo) ReplaceWeek(ctx context.Context, weekStart time.Time, blocks []block.TimeBlock, summary block.WeekSummary) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.replaceCalls++
	r.savedBlocks = append([]block.TimeBlock(nil), blocks...)
	r.savedSummary = &summary
	return nil
}

// testPolicy is the Mon 18:00 -> Sat 18:00 baseline with fill disabled.
func testPolicy() config.Policy {
	return config.Policy{
		StartDay:     time.Monday,
		StartClock:   timeutil.Clock{Hour: 18},
		EndDay:       time.Saturday,
		EndClock:     timeutil.Clock{Hour: 18},
		TargetHours:  40,
		Rounding:     config.RoundUp,
		Overlap:      config.OverlapPriority,
		AutoFillDay:  time.Friday,
		TopicMode:    config.TopicGeneric,
		DefaultTopic: "Internal tooling",
		Distribution: config.DistributeEndOfWeek,
		MaxCarryOver: 20,
		Interval:     time.Hour,
	}
}

// wednesday is a mid-week reference inside the 2026-01-05 work week.
func wednesday() time.Time {
	return time.Date(2026, time.January, 7, 12, 0, 0, 0, time.UTC)
}

func TestProcessWeek_EndToEnd(t *testing.T) {
	tuesday := time.Date(2026, time.January, 6, 10, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		events: []event.RawEvent{
			makeEvent(event.SourceTrackedTime, "t-1", tuesday, 120, "implementing invoicing"),
			makeEvent(event.SourceCalendar, "c-1", tuesday, 30, "standup"),
		},
	}
	eng := New(repo, discardLogger())

	result, err := eng.ProcessWeek(context.Background(), testPolicy(), Options{Reference: wednesday()})
	if err != nil {
		t.Fatalf("ProcessWeek() error = %v", err)
	}

	if result.TotalHours != 2.0 {
		t.Errorf("TotalHours = %v, expected 2.0", result.TotalHours)
	}
	if result.BlocksWritten != 1 {
		t.Fatalf("BlocksWritten = %d, expected 1 (calendar slot dropped by priority)", result.BlocksWritten)
	}
	if result.RawEvents != 2 || result.SkippedEvents != 0 {
		t.Errorf("RawEvents/Skipped = %d/%d, expected 2/0", result.RawEvents, result.SkippedEvents)
	}
	if result.FillState != FillIdle {
		t.Errorf("FillState = %v, expected idle", result.FillState)
	}

	b := repo.savedBlocks[0]
	if b.Source != event.SourceTrackedTime {
		t.Errorf("Source = %v, expected tracked-time", b.Source)
	}
	if !b.Start.Equal(tuesday) || !b.End.Equal(tuesday.Add(2*time.Hour)) {
		t.Errorf("block span = [%v, %v], expected 10:00-12:00", b.Start, b.End)
	}
	if b.DurationHours != 2.0 {
		t.Errorf("DurationHours = %v, expected 2.0", b.DurationHours)
	}

	if repo.savedSummary.TotalHours != 2.0 {
		t.Errorf("summary TotalHours = %v, expected 2.0", repo.savedSummary.TotalHours)
	}
	if got := repo.savedSummary.Metadata.PerSource["tracked-time"]; got != 2.0 {
		t.Errorf("per-source tracked-time = %v, expected 2.0", got)
	}
	if want := time.Date(2026, time.January, 5, 18, 0, 0, 0, time.UTC); !result.WeekStart.Equal(want) {
		t.Errorf("WeekStart = %v, expected %v", result.WeekStart, want)
	}
}

func TestProcessWeek_Idempotent(t *testing.T) {
	tuesday := time.Date(2026, time.January, 6, 10, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		events: []event.RawEvent{
			makeEvent(event.SourceTrackedTime, "t-1", tuesday, 95, "coding"),
			makeEvent(event.SourceCalendar, "c-1", tuesday.Add(4*time.Hour), 60, "planning"),
			makeEvent(event.SourceMail, "m-1", tuesday.Add(6*time.Hour), 0, "sent report"),
		},
	}
	eng := New(repo, discardLogger())
	pol := testPolicy()

	if _, err := eng.ProcessWeek(context.Background(), pol, Options{Reference: wednesday()}); err != nil {
		t.Fatalf("first run error = %v", err)
	}
	firstBlocks := repo.savedBlocks
	firstSummary := *repo.savedSummary

	if _, err := eng.ProcessWeek(context.Background(), pol, Options{Reference: wednesday()}); err != nil {
		t.Fatalf("second run error = %v", err)
	}

	if !reflect.DeepEqual(firstBlocks, repo.savedBlocks) {
		t.Errorf("reruns diverged:\nfirst:  %+v\nsecond: %+v", firstBlocks, repo.savedBlocks)
	}
	if !reflect.DeepEqual(firstSummary, *repo.savedSummary) {
		t.Errorf("summary diverged:\nfirst:  %+v\nsecond: %+v", firstSummary, *repo.savedSummary)
	}
}

func TestProcessWeek_ConservationOfHours(t *testing.T) {
	tuesday := time.Date(2026, time.January, 6, 9, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		events: []event.RawEvent{
			makeEvent(event.SourceTrackedTime, "t-1", tuesday, 200, "feature work"),
			makeEvent(event.SourceRepoActivity, "r-1", tuesday.Add(8*time.Hour), 45, "pushed commits"),
		},
	}
	eng := New(repo, discardLogger())

	result, err := eng.ProcessWeek(context.Background(), testPolicy(), Options{Reference: wednesday()})
	if err != nil {
		t.Fatalf("ProcessWeek() error = %v", err)
	}

	var sum float64
	for _, b := range repo.savedBlocks {
		sum += b.DurationHours
	}
	if sum != result.TotalHours || sum != repo.savedSummary.TotalHours {
		t.Errorf("hours not conserved: blocks sum %v, result %v, summary %v",
			sum, result.TotalHours, repo.savedSummary.TotalHours)
	}
}

func TestProcessWeek_ForceFillTopsUpToTarget(t *testing.T) {
	tuesday := time.Date(2026, time.January, 6, 10, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		events: []event.RawEvent{
			makeEvent(event.SourceTrackedTime, "t-1", tuesday, 120, "coding"),
		},
	}
	eng := New(repo, discardLogger())

	result, err := eng.ProcessWeek(context.Background(), testPolicy(), Options{
		Reference: wednesday(),
		ForceFill: true,
	})
	if err != nil {
		t.Fatalf("ProcessWeek() error = %v", err)
	}

	if result.HoursFilled != 38.0 {
		t.Errorf("HoursFilled = %v, expected 38.0", result.HoursFilled)
	}
	if result.TotalHours != 40.0 {
		t.Errorf("TotalHours = %v, expected the 40.0 target", result.TotalHours)
	}
	if result.FillState != FillCommitted {
		t.Errorf("FillState = %v, expected committed", result.FillState)
	}
	if got := repo.savedSummary.Metadata.HoursFilled; got != 38.0 {
		t.Errorf("summary HoursFilled = %v, expected 38.0", got)
	}

	var fillHours float64
	for _, b := range repo.savedBlocks {
		if b.Source == event.SourceFill {
			fillHours += b.DurationHours
		}
	}
	if fillHours != 38.0 {
		t.Errorf("persisted fill hours = %v, expected 38.0", fillHours)
	}
}

func TestProcessWeek_SeedsCarryOverFromPreviousWeek(t *testing.T) {
	tuesday := time.Date(2026, time.January, 6, 10, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		events: []event.RawEvent{
			// 41h tracked: 1h over the 40h target.
			makeEvent(event.SourceTrackedTime, "t-1", tuesday, 41*60, "long stretch"),
		},
		prev: &block.WeekSummary{
			WeekStart: time.Date(2025, time.December, 29, 18, 0, 0, 0, time.UTC),
			Metadata:  block.SummaryMetadata{CarryOverHours: 3},
		},
	}
	eng := New(repo, discardLogger())

	result, err := eng.ProcessWeek(context.Background(), testPolicy(), Options{
		Reference: wednesday(),
		ForceFill: true,
	})
	if err != nil {
		t.Fatalf("ProcessWeek() error = %v", err)
	}

	if result.HoursFilled != 0 {
		t.Errorf("HoursFilled = %v, expected 0 (never subtracts)", result.HoursFilled)
	}
	if result.CarryOverHours != 4.0 {
		t.Errorf("CarryOverHours = %v, expected 3 + 1 excess = 4.0", result.CarryOverHours)
	}
	if got := repo.savedSummary.Metadata.CarryOverHours; got != 4.0 {
		t.Errorf("summary CarryOverHours = %v, expected 4.0", got)
	}
}

func TestProcessWeek_GroupedWeekFillsOnlyFreeSlots(t *testing.T) {
	// Two same-description tracked events hours apart merge into one grouped
	// entry spanning the gap. Empty-slot fill must still see the real
	// coverage: the 09:30 slot is free, the 15:00 slot is occupied.
	tue9 := time.Date(2026, time.January, 6, 9, 0, 0, 0, time.UTC)
	tue15 := time.Date(2026, time.January, 6, 15, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		events: []event.RawEvent{
			makeEvent(event.SourceTrackedTime, "t-1", tue9, 30, "coding"),
			makeEvent(event.SourceTrackedTime, "t-2", tue15, 30, "coding"),
		},
	}
	pol := testPolicy()
	pol.Group = true
	pol.Distribution = config.DistributeEmptySlots

	eng := New(repo, discardLogger())
	result, err := eng.ProcessWeek(context.Background(), pol, Options{
		Reference: wednesday(),
		ForceFill: true,
	})
	if err != nil {
		t.Fatalf("ProcessWeek() error = %v", err)
	}
	if result.HoursFilled != 39.0 {
		t.Errorf("HoursFilled = %v, expected the full 39.0 shortfall", result.HoursFilled)
	}

	occupied := map[block.Slot]bool{
		block.SlotAt(tue9):  true,
		block.SlotAt(tue15): true,
	}
	freeMorningSlot := block.SlotAt(tue9.Add(30 * time.Minute))

	var filledFreeMorning bool
	for _, b := range repo.savedBlocks {
		if b.Source != event.SourceFill {
			continue
		}
		for _, s := range b.Slots() {
			if occupied[s] {
				t.Errorf("fill block covers the occupied slot %v", s.Start(time.UTC))
			}
			if s == freeMorningSlot {
				filledFreeMorning = true
			}
		}
	}
	if !filledFreeMorning {
		t.Error("the free 09:30 slot between the merged blocks was never filled")
	}
}

func TestProcessWeek_MalformedEventsAreCountedNotFatal(t *testing.T) {
	tuesday := time.Date(2026, time.January, 6, 10, 0, 0, 0, time.UTC)
	repo := &fakeRepo{
		events: []event.RawEvent{
			makeEvent(event.SourceTrackedTime, "t-1", tuesday, 60, "coding"),
			makeEvent(event.SourceCalendar, "bad", tuesday, -15, "negative"),
		},
	}
	eng := New(repo, discardLogger())

	result, err := eng.ProcessWeek(context.Background(), testPolicy(), Options{Reference: wednesday()})
	if err != nil {
		t.Fatalf("ProcessWeek() error = %v", err)
	}
	if result.SkippedEvents != 1 {
		t.Errorf("SkippedEvents = %d, expected 1", result.SkippedEvents)
	}
	if repo.savedSummary.Metadata.SkippedEvents != 1 {
		t.Errorf("summary SkippedEvents = %d, expected 1", repo.savedSummary.Metadata.SkippedEvents)
	}
	if result.TotalHours != 1.0 {
		t.Errorf("TotalHours = %v, expected 1.0", result.TotalHours)
	}
}

func TestProcessWeek_CancelledContextAbortsBeforeCommit(t *testing.T) {
	repo := &fakeRepo{}
	eng := New(repo, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.ProcessWeek(ctx, testPolicy(), Options{Reference: wednesday()})
	if err == nil {
		t.Fatal("ProcessWeek() expected error for cancelled context, got nil")
	}
	if repo.replaceCalls != 0 {
		t.Errorf("ReplaceWeek called %d times, expected 0", repo.replaceCalls)
	}
}

func TestProcessWeek_PersistFailureSurfaces(t *testing.T) {
	repoErr := errors.New("disk full")
	repo := &fakeRepo{replaceErr: repoErr}
	eng := New(repo, discardLogger())

	_, err := eng.ProcessWeek(context.Background(), testPolicy(), Options{Reference: wednesday()})
	if !errors.Is(err, repoErr) {
		t.Errorf("ProcessWeek() error = %v, expected to wrap %v", err, repoErr)
	}
}

func TestLockWeek_SerializesSameWeek(t *testing.T) {
	eng := New(&fakeRepo{}, discardLogger())
	weekStart := time.Date(2026, time.January, 5, 18, 0, 0, 0, time.UTC)

	release, err := eng.lockWeek(context.Background(), weekStart)
	if err != nil {
		t.Fatalf("first lockWeek() error = %v", err)
	}

	// A second acquisition must block until the holder releases; with a short
	// deadline it times out instead.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := eng.lockWeek(ctx, weekStart); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("contended lockWeek() error = %v, expected deadline exceeded", err)
	}

	release()

	release2, err := eng.lockWeek(context.Background(), weekStart)
	if err != nil {
		t.Fatalf("lockWeek() after release error = %v", err)
	}
	release2()
}

func TestLockWeek_DistinctWeeksDoNotContend(t *testing.T) {
	eng := New(&fakeRepo{}, discardLogger())
	week1 := time.Date(2026, time.January, 5, 18, 0, 0, 0, time.UTC)
	week2 := week1.AddDate(0, 0, 7)

	release1, err := eng.lockWeek(context.Background(), week1)
	if err != nil {
		t.Fatalf("lockWeek(week1) error = %v", err)
	}
	defer release1()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	release2, err := eng.lockWeek(ctx, week2)
	if err != nil {
		t.Fatalf("lockWeek(week2) error = %v, expected no contention", err)
	}
	release2()
}
