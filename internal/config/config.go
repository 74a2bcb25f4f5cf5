// Package config loads and validates the policy configuration that drives a
// processing run. The file is re-read at the start of every run so external
// edits take effect on the next batch; a run only ever sees one immutable
// snapshot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/xolan/billable/internal/timeutil"
)

const (
	// AppName is the application name used for the config directory.
	AppName = "billable"
	// ConfigFile is the name of the TOML configuration file.
	ConfigFile = "config.toml"
)

// RoundingMode converts raw minutes into half-hour units.
type RoundingMode string

const (
	RoundUp      RoundingMode = "up"
	RoundNearest RoundingMode = "nearest"
)

// OverlapMode decides what happens when more than one source claims a slot.
type OverlapMode string

const (
	OverlapPriority OverlapMode = "priority"
	OverlapShowBoth OverlapMode = "show_both"
	OverlapCombine  OverlapMode = "combine"
)

// TopicMode selects how the fill-up description topic is chosen.
type TopicMode string

const (
	TopicManual  TopicMode = "manual"
	TopicAuto    TopicMode = "auto"
	TopicGeneric TopicMode = "generic"
)

// Distribution selects where synthetic fill blocks are placed.
type Distribution string

const (
	DistributeEndOfWeek  Distribution = "end_of_week"
	DistributeAcrossDays Distribution = "distributed"
	DistributeEmptySlots Distribution = "empty_slots"
)

// ConfigurationError reports an invalid setting. It is fatal for a run;
// nothing is committed.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Week defines the work-week window boundaries.
type Week struct {
	StartDay  string `toml:"start_day"`
	StartTime string `toml:"start_time"`
	EndDay    string `toml:"end_day"`
	EndTime   string `toml:"end_time"`
}

// Processing holds the block-processing policies.
type Processing struct {
	TargetHoursPerWeek  float64      `toml:"target_hours_per_week"`
	RoundingMode        RoundingMode `toml:"rounding_mode"`
	OverlapHandling     OverlapMode  `toml:"overlap_handling"`
	GroupSameActivities bool         `toml:"group_same_activities"`
}

// Fill holds the fill-up engine policies.
type Fill struct {
	AutoFillEnabled   bool         `toml:"auto_fill_enabled"`
	AutoFillDay       string       `toml:"auto_fill_day"`
	TopicMode         TopicMode    `toml:"topic_mode"`
	DefaultTopic      string       `toml:"default_topic"`
	Distribution      Distribution `toml:"distribution"`
	MaxCarryOverHours float64      `toml:"max_carry_over_hours"`
}

// Scheduler holds the periodic-trigger settings.
type Scheduler struct {
	IntervalMinutes int `toml:"interval_minutes"`
}

// Config is the on-disk representation of all settings.
type Config struct {
	Week       Week       `toml:"week"`
	Processing Processing `toml:"processing"`
	Fill       Fill       `toml:"fill"`
	Scheduler  Scheduler  `toml:"scheduler"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Week: Week{
			StartDay:  "monday",
			StartTime: "18:00",
			EndDay:    "saturday",
			EndTime:   "18:00",
		},
		Processing: Processing{
			TargetHoursPerWeek:  40,
			RoundingMode:        RoundUp,
			OverlapHandling:     OverlapPriority,
			GroupSameActivities: false,
		},
		Fill: Fill{
			AutoFillEnabled:   false,
			AutoFillDay:       "friday",
			TopicMode:         TopicGeneric,
			DefaultTopic:      "Internal tooling",
			Distribution:      DistributeEndOfWeek,
			MaxCarryOverHours: 20,
		},
		Scheduler: Scheduler{
			IntervalMinutes: 60,
		},
	}
}

// GetConfigPath returns the path to the config file, creating the
// XDG-compliant config directory if needed.
func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	appDir := filepath.Join(configDir, AppName)
	if err := os.MkdirAll(appDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(appDir, ConfigFile), nil
}

// Load reads the config file at path. A missing file yields the defaults;
// an unreadable or invalid file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if _, err := cfg.Policy(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Policy is the resolved, typed snapshot of one run's settings. Every stage
// receives this value explicitly; there is no global mutable state.
type Policy struct {
	StartDay   time.Weekday
	StartClock timeutil.Clock
	EndDay     time.Weekday
	EndClock   timeutil.Clock

	TargetHours float64
	Rounding    RoundingMode
	Overlap     OverlapMode
	Group       bool

	AutoFill     bool
	AutoFillDay  time.Weekday
	TopicMode    TopicMode
	DefaultTopic string
	Distribution Distribution
	MaxCarryOver float64

	Interval time.Duration
}

// Policy validates the configuration and resolves it into a typed snapshot.
// Invalid settings surface as *ConfigurationError.
func (c Config) Policy() (Policy, error) {
	var p Policy
	var err error

	if p.StartDay, err = timeutil.ParseWeekday(c.Week.StartDay); err != nil {
		return p, &ConfigurationError{Field: "week.start_day", Reason: err.Error()}
	}
	if p.StartClock, err = timeutil.ParseClock(c.Week.StartTime); err != nil {
		return p, &ConfigurationError{Field: "week.start_time", Reason: err.Error()}
	}
	if p.EndDay, err = timeutil.ParseWeekday(c.Week.EndDay); err != nil {
		return p, &ConfigurationError{Field: "week.end_day", Reason: err.Error()}
	}
	if p.EndClock, err = timeutil.ParseClock(c.Week.EndTime); err != nil {
		return p, &ConfigurationError{Field: "week.end_time", Reason: err.Error()}
	}
	// Probe the window once so a zero-length week fails at load, not mid-run.
	if _, err := timeutil.WeekWindow(time.Now(), p.StartDay, p.StartClock, p.EndDay, p.EndClock); err != nil {
		return p, &ConfigurationError{Field: "week", Reason: err.Error()}
	}

	p.TargetHours = c.Processing.TargetHoursPerWeek
	if p.TargetHours < 1 || p.TargetHours > 168 {
		return p, &ConfigurationError{Field: "processing.target_hours_per_week", Reason: "must be between 1 and 168"}
	}
	switch c.Processing.RoundingMode {
	case RoundUp, RoundNearest:
		p.Rounding = c.Processing.RoundingMode
	default:
		return p, &ConfigurationError{Field: "processing.rounding_mode", Reason: fmt.Sprintf("unknown mode %q", c.Processing.RoundingMode)}
	}
	switch c.Processing.OverlapHandling {
	case OverlapPriority, OverlapShowBoth, OverlapCombine:
		p.Overlap = c.Processing.OverlapHandling
	default:
		return p, &ConfigurationError{Field: "processing.overlap_handling", Reason: fmt.Sprintf("unknown mode %q", c.Processing.OverlapHandling)}
	}
	p.Group = c.Processing.GroupSameActivities

	p.AutoFill = c.Fill.AutoFillEnabled
	if p.AutoFillDay, err = timeutil.ParseWeekday(c.Fill.AutoFillDay); err != nil {
		return p, &ConfigurationError{Field: "fill.auto_fill_day", Reason: err.Error()}
	}
	switch c.Fill.TopicMode {
	case TopicManual, TopicAuto, TopicGeneric:
		p.TopicMode = c.Fill.TopicMode
	default:
		return p, &ConfigurationError{Field: "fill.topic_mode", Reason: fmt.Sprintf("unknown mode %q", c.Fill.TopicMode)}
	}
	if len(c.Fill.DefaultTopic) > 100 {
		return p, &ConfigurationError{Field: "fill.default_topic", Reason: "must be at most 100 characters"}
	}
	p.DefaultTopic = c.Fill.DefaultTopic
	switch c.Fill.Distribution {
	case DistributeEndOfWeek, DistributeAcrossDays, DistributeEmptySlots:
		p.Distribution = c.Fill.Distribution
	default:
		return p, &ConfigurationError{Field: "fill.distribution", Reason: fmt.Sprintf("unknown mode %q", c.Fill.Distribution)}
	}
	if c.Fill.MaxCarryOverHours < 0 || c.Fill.MaxCarryOverHours > 10000 {
		return p, &ConfigurationError{Field: "fill.max_carry_over_hours", Reason: "must be between 0 and 10000"}
	}
	p.MaxCarryOver = c.Fill.MaxCarryOverHours

	if c.Scheduler.IntervalMinutes < 1 {
		return p, &ConfigurationError{Field: "scheduler.interval_minutes", Reason: "must be at least 1"}
	}
	p.Interval = time.Duration(c.Scheduler.IntervalMinutes) * time.Minute

	return p, nil
}

// Window computes the work-week window owning the reference instant under
// this policy.
func (p Policy) Window(ref time.Time) (timeutil.Window, error) {
	w, err := timeutil.WeekWindow(ref, p.StartDay, p.StartClock, p.EndDay, p.EndClock)
	if err != nil {
		return w, &ConfigurationError{Field: "week", Reason: err.Error()}
	}
	return w, nil
}
