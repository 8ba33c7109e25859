package guild

import (
	"sort"
	"time"

	"taskbot/internal/snapshot"
	"taskbot/internal/timeutil"
	"taskbot/pkg/logx"
)

// Team is a collection of tasks tied to a membership role. All exported
// methods serialize through the owning guild's mutex.
type Team struct {
	guild  *Guild
	roleID int64
	notify NotifySettings
	tasks  []*task
}

func (t *Team) Guild() *Guild { return t.guild }
func (t *Team) RoleID() int64 { return t.roleID }

func (t *Team) Notify() NotifySettings {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	return t.notify
}

// SetNotify replaces the team's notification settings. Existing tasks keep
// the settings captured when they were scheduled.
func (t *Team) SetNotify(n NotifySettings) {
	t.guild.mu.Lock()
	t.notify = n
	t.guild.mu.Unlock()
	t.guild.audit("edit_notifications", "")
}

// CreateTask validates the due instant, canonicalizes tags and attaches a
// new task, which starts its two notification timers.
func (t *Team) CreateTask(content, rawTags string, due time.Time) (TaskView, error) {
	t.guild.mu.Lock()
	now := t.guild.deps.Clock.Now()
	due = due.In(t.guild.loc)

	task, err := newTask(content, t.parseTagsLocked(rawTags), due, now)
	if err != nil {
		t.guild.mu.Unlock()
		return TaskView{}, err
	}
	t.tasks = append(t.tasks, task)
	task.attachLocked(t)
	view := viewOf(task)
	t.guild.mu.Unlock()

	t.guild.audit("new_task", content)
	return view, nil
}

// ParseTags splits and canonicalizes raw user input against the tags the
// team already uses: a case/diacritic-insensitive match substitutes the
// existing spelling, otherwise the tag is kept as typed.
func (t *Team) ParseTags(raw string) []string {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	return t.parseTagsLocked(raw)
}

func (t *Team) parseTagsLocked(raw string) []string {
	if raw == "" {
		return nil
	}
	existing := map[string]string{}
	for _, task := range t.tasks {
		for _, tag := range task.tags {
			if _, ok := existing[foldTag(tag)]; !ok {
				existing[foldTag(tag)] = tag
			}
		}
	}

	tags := splitTags(raw)
	for i, tag := range tags {
		if match, ok := existing[foldTag(tag)]; ok {
			tags[i] = match
		}
	}
	return tags
}

// Tasks returns every task grouped by due date, or ErrNoActiveTasks.
func (t *Team) Tasks() ([]TaskGroup, error) {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	if len(t.tasks) == 0 {
		return nil, ErrNoActiveTasks
	}
	return groupByDueDate(t.tasks), nil
}

// TasksDueOn returns the date's tasks sorted by due time ascending. The
// returned order is the indexing the edit/delete operations address.
func (t *Team) TasksDueOn(date timeutil.Date) ([]TaskView, error) {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	return t.tasksDueOnLocked(date)
}

func (t *Team) tasksDueOnLocked(date timeutil.Date) ([]TaskView, error) {
	for _, g := range groupByDueDate(t.tasks) {
		if g.Date == date {
			return g.Tasks, nil
		}
	}
	return nil, &NoTasksOnDateError{RoleID: t.roleID, Date: date}
}

// TasksTagged returns tasks carrying every requested tag, due date
// ascending.
func (t *Team) TasksTagged(rawTags string) ([]TaskView, error) {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()

	tags := t.parseTagsLocked(rawTags)
	var matched []*task
	for _, task := range t.tasks {
		if hasAllTags(task.tags, tags) {
			matched = append(matched, task)
		}
	}
	if len(matched) == 0 {
		return nil, &NoTasksTaggedError{RoleID: t.roleID, Tags: tags}
	}

	sortByDue(matched)
	views := make([]TaskView, len(matched))
	for i, task := range matched {
		views[i] = viewOf(task)
	}
	return views, nil
}

// Summary condenses the team's tasks per due date: count plus the deduped
// tag set, dates ascending.
func (t *Team) Summary() ([]DateSummary, error) {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()
	if len(t.tasks) == 0 {
		return nil, ErrNoActiveTasks
	}

	groups := groupByDueDate(t.tasks)
	out := make([]DateSummary, 0, len(groups))
	for _, g := range groups {
		seen := map[string]bool{}
		var tags []string
		for _, task := range g.Tasks {
			for _, tag := range task.Tags {
				if !seen[tag] {
					seen[tag] = true
					tags = append(tags, tag)
				}
			}
		}
		sort.Strings(tags)
		out = append(out, DateSummary{Date: g.Date, Count: len(g.Tasks), Tags: tags})
	}
	return out, nil
}

// TasksInRange returns tasks with start < due <= stop, due ascending.
// The half-open-on-the-left interval keeps back-to-back batch windows from
// double-counting a task due exactly at a boundary.
func (t *Team) TasksInRange(start, stop time.Time) []TaskView {
	t.guild.mu.Lock()
	defer t.guild.mu.Unlock()

	matched := t.tasksInRangeLocked(start, stop)
	views := make([]TaskView, len(matched))
	for i, task := range matched {
		views[i] = viewOf(task)
	}
	return views
}

func (t *Team) tasksInRangeLocked(start, stop time.Time) []*task {
	var matched []*task
	for _, task := range t.tasks {
		if task.due.After(start) && !task.due.After(stop) {
			matched = append(matched, task)
		}
	}
	sortByDue(matched)
	return matched
}

// DeleteTasks removes the 1-based indexes from the date's due-time-sorted
// group and cancels their timers. Returns the removed tasks.
func (t *Team) DeleteTasks(date timeutil.Date, indexes []int) ([]TaskView, error) {
	t.guild.mu.Lock()
	onDate, err := t.tasksOnDateLocked(date)
	if err != nil {
		t.guild.mu.Unlock()
		return nil, err
	}

	var removed []TaskView
	for _, idx := range indexes {
		if idx < 1 || idx > len(onDate) {
			t.guild.mu.Unlock()
			return nil, ErrTaskIndex
		}
	}
	// Mark first, then sweep, so duplicate indexes and ordering don't bite.
	doomed := map[*task]bool{}
	for _, idx := range indexes {
		doomed[onDate[idx-1]] = true
	}
	for _, task := range onDate {
		if doomed[task] {
			removed = append(removed, viewOf(task))
		}
	}
	t.removeLocked(func(task *task) bool { return doomed[task] })
	t.guild.mu.Unlock()

	t.guild.audit("delete_tasks", date.String())
	return removed, nil
}

// EditContent replaces the content of the task at (date, 1-based index).
func (t *Team) EditContent(date timeutil.Date, index int, content string) (TaskView, error) {
	return t.edit(date, index, func(task *task) error {
		task.content = content
		return nil
	})
}

// EditDueDate moves the task to a new calendar date, keeping its time of
// day. If that instant has already passed, the time of day is bumped to
// 23:59 before re-validating; only if even that is past does the edit fail.
func (t *Team) EditDueDate(date timeutil.Date, index int, newDate timeutil.Date) (TaskView, error) {
	return t.edit(date, index, func(task *task) error {
		g := task.team.guild
		now := g.deps.Clock.Now()

		due := newDate.At(task.due.Hour(), task.due.Minute(), g.loc)
		if !due.After(now) {
			due = newDate.At(23, 59, g.loc)
			if !due.After(now) {
				return &PastDueError{Due: due, Now: now}
			}
		}
		task.due = due
		task.rescheduleLocked()
		return nil
	})
}

// EditDueTime changes the task's time of day, keeping its date.
func (t *Team) EditDueTime(date timeutil.Date, index, hour, min int) (TaskView, error) {
	return t.edit(date, index, func(task *task) error {
		g := task.team.guild
		now := g.deps.Clock.Now()

		due := timeutil.DateOf(task.due).At(hour, min, g.loc)
		if !due.After(now) {
			return &PastDueError{Due: due, Now: now}
		}
		task.due = due
		task.rescheduleLocked()
		return nil
	})
}

// EditTags replaces the task's tags via tag search.
func (t *Team) EditTags(date timeutil.Date, index int, rawTags string) (TaskView, error) {
	return t.edit(date, index, func(task *task) error {
		task.tags = t.parseTagsLocked(rawTags)
		return nil
	})
}

func (t *Team) edit(date timeutil.Date, index int, fn func(*task) error) (TaskView, error) {
	t.guild.mu.Lock()
	onDate, err := t.tasksOnDateLocked(date)
	if err != nil {
		t.guild.mu.Unlock()
		return TaskView{}, err
	}
	if index < 1 || index > len(onDate) {
		t.guild.mu.Unlock()
		return TaskView{}, ErrTaskIndex
	}
	task := onDate[index-1]
	if err := fn(task); err != nil {
		t.guild.mu.Unlock()
		return TaskView{}, err
	}
	view := viewOf(task)
	t.guild.mu.Unlock()

	t.guild.audit("edit_task", view.Content)
	return view, nil
}

func (t *Team) tasksOnDateLocked(date timeutil.Date) ([]*task, error) {
	var onDate []*task
	for _, task := range t.tasks {
		if timeutil.DateOf(task.due) == date {
			onDate = append(onDate, task)
		}
	}
	if len(onDate) == 0 {
		return nil, &NoTasksOnDateError{RoleID: t.roleID, Date: date}
	}
	sortByDue(onDate)
	return onDate, nil
}

// DeleteExpired removes every task due on a past date, plus today's tasks
// whose due instant has already passed. Timers are cancelled on removal.
func (t *Team) DeleteExpired() {
	t.guild.mu.Lock()
	t.deleteExpiredLocked()
	t.guild.mu.Unlock()
}

func (t *Team) deleteExpiredLocked() {
	now := t.guild.deps.Clock.Now().In(t.guild.loc)
	today := timeutil.DateOf(now)

	removed := 0
	t.removeLocked(func(task *task) bool {
		d := timeutil.DateOf(task.due)
		expired := d.Before(today) || (d == today && task.due.Before(now))
		if expired {
			removed++
		}
		return expired
	})
	if removed > 0 {
		t.guild.log.Debug("expired tasks deleted",
			logx.Int64("team", t.roleID), logx.Int("count", removed))
	}
}

// removeLocked removes matching tasks and cancels their timers.
func (t *Team) removeLocked(match func(*task) bool) {
	kept := t.tasks[:0]
	for _, task := range t.tasks {
		if match(task) {
			task.cancelTimersLocked()
			continue
		}
		kept = append(kept, task)
	}
	// Clear the tail so removed tasks don't linger in the backing array.
	for i := len(kept); i < len(t.tasks); i++ {
		t.tasks[i] = nil
	}
	t.tasks = kept
}

func (t *Team) containsLocked(needle *task) bool {
	for _, task := range t.tasks {
		if task == needle {
			return true
		}
	}
	return false
}

func (t *Team) record() snapshot.TeamRecord {
	tasks := make([]snapshot.TaskRecord, 0, len(t.tasks))
	for _, task := range t.tasks {
		tasks = append(tasks, task.record())
	}
	return snapshot.TeamRecord{
		RoleID: t.roleID,
		Notify: snapshot.NotifyRecord{
			Batch:     t.notify.Batch,
			Early:     t.notify.Early,
			EarlyTime: t.notify.EarlyTime,
			Exact:     t.notify.Exact,
		},
		Tasks: tasks,
	}
}

// ---- pure helpers ----

func sortByDue(tasks []*task) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].due.Before(tasks[j].due) })
}

// groupByDueDate groups tasks by the calendar date of their due instant,
// dates ascending, each group due-time ascending. Pure function of its
// input.
func groupByDueDate(tasks []*task) []TaskGroup {
	sorted := append([]*task(nil), tasks...)
	sortByDue(sorted)

	var groups []TaskGroup
	idx := map[timeutil.Date]int{}
	for _, task := range sorted {
		d := timeutil.DateOf(task.due)
		i, ok := idx[d]
		if !ok {
			i = len(groups)
			idx[d] = i
			groups = append(groups, TaskGroup{Date: d})
		}
		groups[i].Tasks = append(groups[i].Tasks, viewOf(task))
	}
	return groups
}

// ArrangeByDueDate groups already-copied task views the same way
// groupByDueDate groups live tasks. Exposed for the command layer's
// display paths.
func ArrangeByDueDate(tasks []TaskView) []TaskGroup {
	sorted := append([]TaskView(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Due.Before(sorted[j].Due) })

	var groups []TaskGroup
	idx := map[timeutil.Date]int{}
	for _, task := range sorted {
		d := timeutil.DateOf(task.Due)
		i, ok := idx[d]
		if !ok {
			i = len(groups)
			idx[d] = i
			groups = append(groups, TaskGroup{Date: d})
		}
		groups[i].Tasks = append(groups[i].Tasks, task)
	}
	return groups
}

func hasAllTags(have, want []string) bool {
	if len(want) == 0 {
		return false
	}
	set := map[string]bool{}
	for _, tag := range have {
		set[tag] = true
	}
	for _, tag := range want {
		if !set[tag] {
			return false
		}
	}
	return true
}
