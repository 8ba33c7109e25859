// Package guild implements the task scheduling and lifecycle engine:
// the Guild -> Team -> Task tree, due-date indexing, the per-task
// notification timers, the daily batch loop and the persistence
// round-trip. The chat platform is abstracted behind Directory (identity
// and channel resolution) and notifier.Sink (delivery).
package guild

import (
	"time"

	"taskbot/internal/notifier"
	"taskbot/internal/scheduler"
	"taskbot/internal/storage"
	"taskbot/internal/timeutil"
	"taskbot/pkg/logx"
)

// Directory resolves external identities against the chat platform.
// It is the read-only window into platform state the engine is allowed.
// It also satisfies snapshot.Resolver.
type Directory interface {
	GuildExists(guildID int64) bool
	RoleExists(guildID, roleID int64) bool

	CanSend(guildID, channelID int64) bool
	SystemChannel(guildID int64) (int64, bool)
	FirstSendableChannel(guildID int64) (int64, bool)
}

// Deps are the external collaborators shared by the whole guild tree.
type Deps struct {
	Clock timeutil.Clock
	Sched *scheduler.Service
	Notif *notifier.Service
	Store storage.Store // may be nil (persistence disabled)
	Dir   Directory
	Log   logx.Logger
}

// Config carries the engine defaults applied to newly created guilds and
// the cadence of the registry's own background work. The set flags keep
// explicit zero values (UTC offset, a midnight batch time) distinguishable
// from fields that were simply left out.
type Config struct {
	DefaultLocale   string
	DefaultTZOffset float64
	TZOffsetSet     bool

	BatchHour    int
	BatchMinute  int
	BatchTimeSet bool

	AutosaveEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en-US"
	}
	if !c.TZOffsetSet {
		c.DefaultTZOffset = -5 // EST; guild admins adjust per guild
		c.TZOffsetSet = true
	}
	if !c.BatchTimeSet {
		c.BatchHour = 6
		c.BatchMinute = 0
		c.BatchTimeSet = true
	}
	if c.AutosaveEvery <= 0 {
		c.AutosaveEvery = time.Hour
	}
	return c
}

// NotifySettings are a team's notification preferences. EarlyTime is the
// early-reminder lead time in minutes.
type NotifySettings struct {
	Batch     bool
	Early     bool
	EarlyTime int
	Exact     bool
}

func DefaultNotifySettings() NotifySettings {
	return NotifySettings{Batch: true, Early: true, EarlyTime: 60, Exact: true}
}

// TaskView is the boundary's read-only copy of a task. Tasks have no
// external id; the command layer addresses them by (due date, index) into
// the date's due-time-sorted group, matching what it displays.
type TaskView struct {
	Content string
	Tags    []string
	Due     time.Time
}

func viewOf(t *task) TaskView {
	return TaskView{
		Content: t.content,
		Tags:    append([]string(nil), t.tags...),
		Due:     t.due,
	}
}

// TaskGroup is one calendar day's worth of tasks, due-time ascending.
type TaskGroup struct {
	Date  timeutil.Date
	Tasks []TaskView
}

// DateSummary condenses one day for the summary view: how many tasks and
// which tags appear.
type DateSummary struct {
	Date  timeutil.Date
	Count int
	Tags  []string
}

// Control-role permission keys. These are the stable strings used both in
// the API and in the persisted snapshot.
const (
	PermCreateEditTasks = "create/edit tasks"
	PermDeleteTasks     = "delete tasks"
	PermJoinLeaveTeams  = "join/leave teams"
	PermCreateTeams     = "create teams"
)

// Perms lists every known permission key.
func Perms() []string {
	return []string{PermCreateEditTasks, PermDeleteTasks, PermJoinLeaveTeams, PermCreateTeams}
}
