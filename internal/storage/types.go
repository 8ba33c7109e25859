package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl audit)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records a boundary mutation (task created, team deleted,
// timezone changed, ...). Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	GuildID int64
	ActorID int64
	Action  string
	Target  string
	Error   string
}
