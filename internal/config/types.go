package config

import (
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the shared trigger/executor service.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier controls outbound delivery pacing. If omitted, runtime
	// defaults apply (rate_per_sec=3, history_size=100).
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	// Storage controls the optional persistence layer. Nil means disabled
	// (snapshots are kept in memory only and lost on restart).
	Storage *StorageConfig `json:"storage,omitempty"`

	// Engine controls guild/task behavior defaults.
	Engine EngineConfig `json:"engine"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the execution side of the scheduler.
//
// Defaults (when fields are omitted/zero): workers=2, queue_size=256.
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int `json:"rate_per_sec,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./taskbot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls guild defaults and the background loops.
//
// BatchTime is a local wall-clock "HH:MM" string; each guild fires its
// daily digest at that time in its own timezone. AutosaveInterval is a
// Go duration string.
//
// DefaultTZOffset is a pointer so an explicit 0 (UTC) can be told apart
// from an omitted field.
type EngineConfig struct {
	BatchTime        string   `json:"batch_time,omitempty"`
	AutosaveInterval string   `json:"autosave_interval,omitempty"`
	DefaultLocale    string   `json:"default_locale,omitempty"`
	DefaultTZOffset  *float64 `json:"default_tz_offset,omitempty"`
}

// ParseBatchTime parses an "HH:MM" wall-clock string. Empty input returns
// the 06:00 default.
func ParseBatchTime(raw string) (hour, minute int, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 6, 0, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("engine.batch_time: want HH:MM, got %q", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("engine.batch_time: bad hour in %q: %w", raw, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("engine.batch_time: bad minute in %q: %w", raw, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("engine.batch_time: %q out of range", raw)
	}
	return h, m, nil
}

// Validate checks fields that are cheap to reject before commit.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, _, err := ParseBatchTime(c.Engine.BatchTime); err != nil {
		return err
	}
	if _, err := ParseDurationField("engine.autosave_interval", c.Engine.AutosaveInterval); err != nil {
		return err
	}
	if c.Storage != nil {
		switch strings.TrimSpace(c.Storage.Driver) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	if c.Notifier != nil && c.Notifier.RatePerSec < 0 {
		return fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	return nil
}
