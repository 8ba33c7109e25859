package guild

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskbot/internal/notifier"
	"taskbot/internal/scheduler"
	"taskbot/internal/snapshot"
	"taskbot/internal/storage"
	"taskbot/internal/timeutil"
	"taskbot/pkg/logx"
)

// Guild is one served community: it owns teams and control roles, the
// daily batch-notification entry, and the guild's locale/timezone/channel
// settings. One mutex serializes every mutation of the tree below it.
type Guild struct {
	mu sync.Mutex

	deps *Deps
	cfg  Config
	log  logx.Logger

	id                   int64
	targetChannel        int64
	receiveAnnouncements bool
	locale               string
	tzOffset             float64
	loc                  *time.Location

	teams        []*Team
	controlRoles []*ControlRole

	// lastBatchDay guards the daily entry against firing twice for the
	// same local day, e.g. after a timezone change near batch time.
	lastBatchDay timeutil.Date
}

// ControlRole grants guild members permission to run gated actions.
type ControlRole struct {
	guild  *Guild
	roleID int64
	perms  map[string]bool
}

func (c *ControlRole) RoleID() int64 { return c.roleID }

func (c *ControlRole) Perms() map[string]bool {
	c.guild.mu.Lock()
	defer c.guild.mu.Unlock()
	out := make(map[string]bool, len(c.perms))
	for k, v := range c.perms {
		out[k] = v
	}
	return out
}

func newGuild(deps *Deps, cfg Config, id int64) *Guild {
	g := &Guild{
		deps:                 deps,
		cfg:                  cfg,
		log:                  deps.Log.With(logx.Int64("guild", id)),
		id:                   id,
		receiveAnnouncements: true,
		locale:               cfg.DefaultLocale,
		tzOffset:             cfg.DefaultTZOffset,
		loc:                  timeutil.FixedOffset(cfg.DefaultTZOffset),
	}
	g.scheduleBatchLocked()
	return g
}

func (g *Guild) ID() int64 { return g.id }

func (g *Guild) Locale() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locale
}

func (g *Guild) SetLocale(locale string) {
	g.mu.Lock()
	g.locale = locale
	g.mu.Unlock()
	g.audit("set_locale", locale)
}

func (g *Guild) ReceiveAnnouncements() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.receiveAnnouncements
}

func (g *Guild) SetReceiveAnnouncements(v bool) {
	g.mu.Lock()
	g.receiveAnnouncements = v
	g.mu.Unlock()
	g.audit("set_announcements", fmt.Sprint(v))
}

func (g *Guild) TZOffset() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tzOffset
}

// Location returns the guild's current fixed-offset zone.
func (g *Guild) Location() *time.Location {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loc
}

// Now is the guild-local current time.
func (g *Guild) Now() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deps.Clock.Now().In(g.loc)
}

// SetTimezone changes the guild's UTC offset. Every owned task's due
// instant is converted into the new zone (same absolute instant, new wall
// clock) and the batch entry is restarted against the new zone.
func (g *Guild) SetTimezone(offsetHours float64) {
	g.mu.Lock()
	loc := timeutil.FixedOffset(offsetHours)
	g.tzOffset = offsetHours
	g.loc = loc
	for _, team := range g.teams {
		for _, task := range team.tasks {
			task.due = task.due.In(loc)
		}
	}
	g.scheduleBatchLocked()
	g.mu.Unlock()

	g.audit("set_timezone", fmt.Sprint(offsetHours))
}

// ---- target channel ----

// TargetChannel resolves the destination for the guild's notifications.
// A configured channel the bot can still send in wins; otherwise the
// platform's system channel, then the first sendable channel. The result
// is cached until it goes stale.
func (g *Guild) TargetChannel() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.targetChannelLocked()
}

func (g *Guild) targetChannelLocked() (int64, error) {
	dir := g.deps.Dir
	if g.targetChannel != 0 && dir.CanSend(g.id, g.targetChannel) {
		return g.targetChannel, nil
	}
	if ch, ok := dir.SystemChannel(g.id); ok && dir.CanSend(g.id, ch) {
		g.targetChannel = ch
		return ch, nil
	}
	if ch, ok := dir.FirstSendableChannel(g.id); ok {
		g.targetChannel = ch
		return ch, nil
	}
	return 0, ErrNoTargetChannel
}

func (g *Guild) SetTargetChannel(channelID int64) {
	g.mu.Lock()
	g.targetChannel = channelID
	g.mu.Unlock()
	g.audit("set_channel", fmt.Sprint(channelID))
}

// Announce delivers an official announcement to the target channel unless
// the guild opted out.
func (g *Guild) Announce(ctx context.Context, title, body string) error {
	g.mu.Lock()
	if !g.receiveAnnouncements {
		g.mu.Unlock()
		return nil
	}
	ch, err := g.targetChannelLocked()
	if err != nil {
		g.mu.Unlock()
		return err
	}
	msg := notifier.Message{GuildID: g.id, ChannelID: ch, Title: title, Body: body}
	g.mu.Unlock()

	return g.deps.Notif.Send(ctx, msg)
}

// ---- teams ----

// CreateTeam ties a new team to a membership role.
func (g *Guild) CreateTeam(roleID int64) (*Team, error) {
	g.mu.Lock()
	if g.findTeamLocked(roleID) != nil {
		g.mu.Unlock()
		return nil, ErrTeamExists
	}
	team := &Team{guild: g, roleID: roleID, notify: DefaultNotifySettings()}
	g.teams = append(g.teams, team)
	g.mu.Unlock()

	g.audit("new_team", fmt.Sprint(roleID))
	return team, nil
}

// Team returns the team tied to a role, or ErrInvalidRole.
func (g *Guild) Team(roleID int64) (*Team, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if team := g.findTeamLocked(roleID); team != nil {
		return team, nil
	}
	return nil, ErrInvalidRole
}

// Teams returns every team, or ErrNoTeams when none are configured yet.
func (g *Guild) Teams() ([]*Team, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.teams) == 0 {
		return nil, ErrNoTeams
	}
	return append([]*Team(nil), g.teams...), nil
}

// UserTeams returns the teams whose role appears in memberRoleIDs, or
// ErrNotInTeam.
func (g *Guild) UserTeams(memberRoleIDs []int64) ([]*Team, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	roles := map[int64]bool{}
	for _, id := range memberRoleIDs {
		roles[id] = true
	}
	var out []*Team
	for _, team := range g.teams {
		if roles[team.roleID] {
			out = append(out, team)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotInTeam
	}
	return out, nil
}

// DeleteTeam removes a team, cancelling every owned task's timers.
func (g *Guild) DeleteTeam(roleID int64) error {
	g.mu.Lock()
	idx := -1
	for i, team := range g.teams {
		if team.roleID == roleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return ErrInvalidRole
	}
	team := g.teams[idx]
	for _, task := range team.tasks {
		task.cancelTimersLocked()
	}
	team.tasks = nil
	g.teams = append(g.teams[:idx], g.teams[idx+1:]...)
	g.mu.Unlock()

	g.audit("delete_team", fmt.Sprint(roleID))
	return nil
}

func (g *Guild) findTeamLocked(roleID int64) *Team {
	for _, team := range g.teams {
		if team.roleID == roleID {
			return team
		}
	}
	return nil
}

// ---- control roles ----

// CreateControlRole ties a permission set to a role.
func (g *Guild) CreateControlRole(roleID int64, perms map[string]bool) (*ControlRole, error) {
	g.mu.Lock()
	if g.findControlRoleLocked(roleID) != nil {
		g.mu.Unlock()
		return nil, ErrControlRoleExists
	}
	filled := make(map[string]bool, len(Perms()))
	for _, p := range Perms() {
		filled[p] = perms[p]
	}
	cr := &ControlRole{guild: g, roleID: roleID, perms: filled}
	g.controlRoles = append(g.controlRoles, cr)
	g.mu.Unlock()

	g.audit("new_control_role", fmt.Sprint(roleID))
	return cr, nil
}

// ControlRole returns the control role tied to a role, or ErrInvalidRole.
func (g *Guild) ControlRole(roleID int64) (*ControlRole, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cr := g.findControlRoleLocked(roleID); cr != nil {
		return cr, nil
	}
	return nil, ErrInvalidRole
}

// ControlRoles returns every control role, or ErrNoControlRoles.
func (g *Guild) ControlRoles() ([]*ControlRole, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.controlRoles) == 0 {
		return nil, ErrNoControlRoles
	}
	return append([]*ControlRole(nil), g.controlRoles...), nil
}

// SetControlRolePerm flips one permission on a control role.
func (g *Guild) SetControlRolePerm(roleID int64, perm string, allow bool) error {
	g.mu.Lock()
	cr := g.findControlRoleLocked(roleID)
	if cr == nil {
		g.mu.Unlock()
		return ErrInvalidRole
	}
	cr.perms[perm] = allow
	g.mu.Unlock()

	g.audit("edit_control_role", fmt.Sprintf("%d %s=%v", roleID, perm, allow))
	return nil
}

// DeleteControlRole removes a control role.
func (g *Guild) DeleteControlRole(roleID int64) error {
	g.mu.Lock()
	idx := -1
	for i, cr := range g.controlRoles {
		if cr.roleID == roleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return ErrInvalidRole
	}
	g.controlRoles = append(g.controlRoles[:idx], g.controlRoles[idx+1:]...)
	g.mu.Unlock()

	g.audit("delete_control_role", fmt.Sprint(roleID))
	return nil
}

func (g *Guild) findControlRoleLocked(roleID int64) *ControlRole {
	for _, cr := range g.controlRoles {
		if cr.roleID == roleID {
			return cr
		}
	}
	return nil
}

// CheckPermission decides whether a member may run a gated action.
// A member with no control roles has full access; otherwise any single
// granting control role suffices.
func (g *Guild) CheckPermission(memberRoleIDs []int64, perm string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	roles := map[int64]bool{}
	for _, id := range memberRoleIDs {
		roles[id] = true
	}
	held := false
	for _, cr := range g.controlRoles {
		if !roles[cr.roleID] {
			continue
		}
		held = true
		if cr.perms[perm] {
			return nil
		}
	}
	if !held {
		return nil
	}
	return ErrPermissionDenied
}

// ---- batch loop ----

func (g *Guild) batchKey() string { return fmt.Sprintf("guild:%d:batch", g.id) }

func (g *Guild) scheduleBatchLocked() {
	g.deps.Sched.Schedule(g.batchKey(), scheduler.DailySchedule{
		Hour:   g.cfg.BatchHour,
		Minute: g.cfg.BatchMinute,
		Loc:    g.loc,
	}, g.runBatchTick)
}

// runBatchTick is the daily entry body: expire, then digest one window.
// Expiration is strictly ordered before batch notification for the tick.
func (g *Guild) runBatchTick(ctx context.Context) error {
	g.mu.Lock()
	now := g.deps.Clock.Now().In(g.loc)
	today := timeutil.DateOf(now)
	if today == g.lastBatchDay {
		// Already fired for this local day (timezone change replay).
		g.mu.Unlock()
		return nil
	}
	g.lastBatchDay = today

	for _, team := range g.teams {
		team.deleteExpiredLocked()
	}

	start := today.At(g.cfg.BatchHour, g.cfg.BatchMinute, g.loc)
	stop := today.AddDays(1).At(g.cfg.BatchHour, g.cfg.BatchMinute, g.loc)
	err := g.batchNotifyLocked(ctx, start, stop)
	g.mu.Unlock()
	return err
}

// BatchNotify sends each batch-subscribed team one digest of the tasks due
// in (start, stop], skipping teams with none.
func (g *Guild) BatchNotify(ctx context.Context, start, stop time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.batchNotifyLocked(ctx, start, stop)
}

func (g *Guild) batchNotifyLocked(ctx context.Context, start, stop time.Time) error {
	var firstErr error
	for _, team := range g.teams {
		if !team.notify.Batch {
			continue
		}
		matched := team.tasksInRangeLocked(start, stop)
		if len(matched) == 0 {
			continue
		}

		ch, err := g.targetChannelLocked()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		hours := int(stop.Sub(start).Hours())
		err = g.deps.Notif.Send(ctx, notifier.Message{
			GuildID:    g.id,
			ChannelID:  ch,
			TeamRoleID: team.roleID,
			Title:      fmt.Sprintf("Good morning! %d task(s) due on the next %dh:", len(matched), hours),
			Body:       digestBody(matched),
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// digestBody enumerates tasks grouped by due date.
func digestBody(tasks []*task) string {
	var b strings.Builder
	var day timeutil.Date
	n := 0
	for _, task := range tasks {
		if d := timeutil.DateOf(task.due); d != day {
			day = d
			n = 0
			fmt.Fprintf(&b, "%s:\n", d)
		}
		n++
		fmt.Fprintf(&b, "  %d. %s (%s)", n, task.content, task.due.Format("15:04"))
		if len(task.tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(task.tags, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// DeleteExpired sweeps every team.
func (g *Guild) DeleteExpired() {
	g.mu.Lock()
	for _, team := range g.teams {
		team.deleteExpiredLocked()
	}
	g.mu.Unlock()
}

// DefaultQueryDate is the date the task queries default to: today before
// batch time, tomorrow from batch time on.
func (g *Guild) DefaultQueryDate() timeutil.Date {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.deps.Clock.Now().In(g.loc)
	today := timeutil.DateOf(now)
	if !now.Before(today.At(g.cfg.BatchHour, g.cfg.BatchMinute, g.loc)) {
		return today.AddDays(1)
	}
	return today
}

// ---- persistence ----

func (g *Guild) record() snapshot.GuildRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	teams := make([]snapshot.TeamRecord, 0, len(g.teams))
	for _, team := range g.teams {
		teams = append(teams, team.record())
	}
	crs := make([]snapshot.ControlRoleRecord, 0, len(g.controlRoles))
	for _, cr := range g.controlRoles {
		perms := make(map[string]bool, len(cr.perms))
		for k, v := range cr.perms {
			perms[k] = v
		}
		crs = append(crs, snapshot.ControlRoleRecord{RoleID: cr.roleID, Perms: perms})
	}

	ch, _ := g.targetChannelLocked()
	return snapshot.GuildRecord{
		ID:                   g.id,
		TargetChannelID:      ch,
		ReceiveAnnouncements: g.receiveAnnouncements,
		Locale:               g.locale,
		TZOffset:             g.tzOffset,
		Teams:                teams,
		ControlRoles:         crs,
	}
}

// audit records a boundary mutation, best effort.
func (g *Guild) audit(action, target string) {
	if g.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := g.deps.Store.AppendAudit(ctx, storage.AuditEntry{
		GuildID: g.id,
		Action:  action,
		Target:  target,
	})
	if err != nil {
		g.log.Debug("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
