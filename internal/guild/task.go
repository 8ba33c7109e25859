package guild

import (
	"context"
	"fmt"
	"time"

	"taskbot/internal/notifier"
	"taskbot/internal/scheduler"
	"taskbot/internal/snapshot"
	"taskbot/internal/timeutil"
)

// task is a single due item. It owns two deferred-notification handles
// (early and exact-due) and holds a non-owning backreference to its team.
//
// Invariants:
//   - due is always zoned in the owning guild's location.
//   - every mutation happens under the owning guild's mutex.
type task struct {
	content string
	tags    []string
	due     time.Time

	team *Team

	// Notification settings are captured once, when the task is attached.
	// Changing the team's settings later must never retroactively change
	// this task's behavior.
	earlyEnabled bool
	earlyLead    time.Duration
	exactEnabled bool

	earlyHandle *scheduler.Handle
	exactHandle *scheduler.Handle
}

func newTask(content string, tags []string, due, now time.Time) (*task, error) {
	if !due.After(now) {
		return nil, &PastDueError{Due: due, Now: now}
	}
	return &task{content: content, tags: tags, due: due}, nil
}

// attachLocked sets the backreference, snapshots the team's notification
// settings, and starts both timers. Guild mutex held.
func (t *task) attachLocked(tm *Team) {
	t.team = tm
	t.earlyEnabled = tm.notify.Early
	t.earlyLead = time.Duration(tm.notify.EarlyTime) * time.Minute
	t.exactEnabled = tm.notify.Exact
	t.scheduleLocked()
}

func (t *task) scheduleLocked() {
	g := t.team.guild
	now := g.deps.Clock.Now()

	if t.earlyEnabled {
		at := t.due.Add(-t.earlyLead)
		if at.After(now) {
			t.earlyHandle = g.deps.Sched.At(at, fmt.Sprintf("guild:%d:task-early", g.id), t.fireEarly)
		}
	}
	if t.exactEnabled && t.due.After(now) {
		t.exactHandle = g.deps.Sched.At(t.due, fmt.Sprintf("guild:%d:task-exact", g.id), t.fireExact)
	}
}

func (t *task) cancelTimersLocked() {
	t.earlyHandle.Cancel()
	t.exactHandle.Cancel()
	t.earlyHandle = nil
	t.exactHandle = nil
}

// rescheduleLocked re-aims both timers at the (possibly edited) due
// instant, reusing the settings captured at attach time.
func (t *task) rescheduleLocked() {
	t.cancelTimersLocked()
	t.scheduleLocked()
}

func (t *task) fireEarly(ctx context.Context) error {
	g := t.team.guild
	g.mu.Lock()
	defer g.mu.Unlock()

	// Suppress if the task was deleted while the timer was pending. The
	// handle is cancelled eagerly on delete; this check closes the window
	// between fire and lock acquisition.
	if !t.team.containsLocked(t) {
		return nil
	}

	title := fmt.Sprintf("Reminder: task due by %s %s:",
		timeutil.DateOf(t.due), t.due.Format("15:04"))
	return t.notifyLocked(ctx, title, t.content)
}

func (t *task) fireExact(ctx context.Context) error {
	g := t.team.guild
	g.mu.Lock()
	defer g.mu.Unlock()

	if !t.team.containsLocked(t) {
		return nil
	}
	return t.notifyLocked(ctx, t.content, "")
}

// notifyLocked assembles and sends a notification to the guild's target
// channel, mentioning the team and appending the tag footer if any.
// Membership check and send happen in the same synchronous step, so a
// concurrent deletion can never race a delivery. Delivery failures are
// returned, never retried.
func (t *task) notifyLocked(ctx context.Context, title, body string) error {
	g := t.team.guild
	ch, err := g.targetChannelLocked()
	if err != nil {
		return err
	}
	return g.deps.Notif.Send(ctx, notifier.Message{
		GuildID:    g.id,
		ChannelID:  ch,
		TeamRoleID: t.team.roleID,
		Title:      title,
		Body:       body,
		Tags:       append([]string(nil), t.tags...),
	})
}

func (t *task) record() snapshot.TaskRecord {
	tags := t.tags
	if tags == nil {
		tags = []string{}
	}
	return snapshot.TaskRecord{
		Content:     t.content,
		Tags:        tags,
		DueDatetime: snapshot.EncodeDue(t.due),
	}
}
