package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
		"scheduler": {"workers": 4, "queue_size": 64},
		"notifier": {"rate_per_sec": 5, "history_size": 10},
		"storage": {"driver": "file", "path": "./store"},
		"engine": {"batch_time": "06:00", "autosave_interval": "1h", "default_locale": "en-US", "default_tz_offset": -5}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Scheduler.Workers != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Notifier == nil || cfg.Notifier.RatePerSec != 5 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Engine.DefaultTZOffset == nil || *cfg.Engine.DefaultTZOffset != -5 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
scheduler:
  workers: 2
engine:
  batch_time: "07:30"
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Engine.BatchTime != "07:30" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}, "typo_section": {}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}}{"another": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("expected trailing-data error")
	}
}

func TestParseBatchTime(t *testing.T) {
	cases := []struct {
		in        string
		hour, min int
		wantErr   bool
	}{
		{"", 6, 0, false},
		{"06:00", 6, 0, false},
		{"23:59", 23, 59, false},
		{"0:5", 0, 5, false},
		{" 07:30 ", 7, 30, false},
		{"24:00", 0, 0, true},
		{"12:60", 0, 0, true},
		{"noon", 0, 0, true},
		{"12", 0, 0, true},
		{"-1:00", 0, 0, true},
	}
	for _, c := range cases {
		h, m, err := ParseBatchTime(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("ParseBatchTime(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseBatchTime(%q): %v", c.in, err)
		}
		if h != c.hour || m != c.min {
			t.Fatalf("ParseBatchTime(%q) = %d:%d, want %d:%d", c.in, h, m, c.hour, c.min)
		}
	}
}

func TestValidate(t *testing.T) {
	good := &Config{}
	if err := good.Validate(); err != nil {
		t.Fatalf("zero config should validate: %v", err)
	}

	bad := []*Config{
		{Engine: EngineConfig{BatchTime: "25:00"}},
		{Engine: EngineConfig{AutosaveInterval: "soon"}},
		{Storage: &StorageConfig{Driver: "redis"}},
		{Storage: &StorageConfig{Driver: "sqlite", BusyTimeout: "-5s"}},
		{Scheduler: SchedulerConfig{Workers: -1}},
		{Notifier: &NotifierConfig{RatePerSec: -1}},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("90s = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "chaos"); err == nil {
		t.Fatalf("expected error for garbage")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", time.Hour); err != nil || d != time.Hour {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "30m", time.Hour); err != nil || d != 30*time.Minute {
		t.Fatalf("explicit = %v, %v", d, err)
	}
}

func TestCommitTracksHash(t *testing.T) {
	m := NewManager("unused")
	cfg := &Config{Logging: LoggingConfig{Level: "info"}}
	m.Commit(cfg)
	if m.Get() != cfg {
		t.Fatalf("Get did not return committed config")
	}
	if m.lastHash == 0 {
		t.Fatalf("hash not recorded")
	}
	if m.lastHash != hashConfig(cfg) {
		t.Fatalf("hash mismatch")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatalf("got wrong config")
		}
	default:
		t.Fatalf("nothing published")
	}

	// Full buffer: oldest dropped, newest kept.
	first := &Config{Logging: LoggingConfig{Level: "a"}}
	second := &Config{Logging: LoggingConfig{Level: "b"}}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got != second {
		t.Fatalf("expected newest config, got %+v", got)
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed after Unsubscribe")
	}
}

func TestSummarizeChange(t *testing.T) {
	offset := -5.0
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Storage: &StorageConfig{Driver: "file", Path: "./s"},
		Engine:  EngineConfig{BatchTime: "07:00", DefaultTZOffset: &offset},
	}
	sections, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"engine", "logging", "storage"}
	if len(sections) != len(want) {
		t.Fatalf("sections = %v, want %v", sections, want)
	}
	for i := range want {
		if sections[i] != want[i] {
			t.Fatalf("sections = %v, want %v", sections, want)
		}
	}

	if sections, _ := SummarizeChange(newCfg, newCfg); len(sections) != 0 {
		t.Fatalf("identical configs produced sections %v", sections)
	}
}
