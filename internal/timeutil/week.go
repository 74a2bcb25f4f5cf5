// Package timeutil provides work-week window computation and half-hour
// alignment helpers for the processing engine.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xolan/billable/internal/block"
)

// Clock is a wall-clock time of day (no date, no zone).
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" into a Clock.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid time %q: out of range", s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// Minutes returns the clock as minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// String renders the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ParseWeekday parses a lowercase day name ("monday".."sunday").
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("invalid day of week %q", s)
}

// Window is the half-open work-week interval [Start, End) that owns one
// batch of time blocks.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Days returns the midnights of every calendar day the window touches,
// in chronological order.
func (w Window) Days() []time.Time {
	var days []time.Time
	day := StartOfDay(w.Start)
	for day.Before(w.End) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// WeekWindow computes the work-week window owning the reference instant.
// The start is the most recent occurrence of startDay at startClock at or
// before ref; the end is found by walking forward from the start to endDay at
// endClock. A window that resolves to zero or negative length (end day/time
// not strictly after the start) is a configuration error.
func WeekWindow(ref time.Time, startDay time.Weekday, startClock Clock, endDay time.Weekday, endClock Clock) (Window, error) {
	daysBack := (int(ref.Weekday()) - int(startDay) + 7) % 7
	if daysBack == 0 && minutesOfDay(ref) < startClock.Minutes() {
		daysBack = 7
	}
	startDate := ref.AddDate(0, 0, -daysBack)
	start := time.Date(startDate.Year(), startDate.Month(), startDate.Day(),
		startClock.Hour, startClock.Minute, 0, 0, ref.Location())

	daysForward := (int(endDay) - int(startDay) + 7) % 7
	endDate := start.AddDate(0, 0, daysForward)
	end := time.Date(endDate.Year(), endDate.Month(), endDate.Day(),
		endClock.Hour, endClock.Minute, 0, 0, ref.Location())
	if !end.After(start) {
		return Window{}, fmt.Errorf("work week end %s %s is not after start %s %s",
			endDay, endClock, startDay, startClock)
	}
	return Window{Start: start, End: end}, nil
}

// StartOfDay returns midnight of the given day in the same location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// FloorToBlock aligns t down to the enclosing half-hour boundary.
func FloorToBlock(t time.Time) time.Time {
	return block.SlotAt(t).Start(t.Location())
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
