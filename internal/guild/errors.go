package guild

import (
	"errors"
	"fmt"
	"time"

	"taskbot/internal/timeutil"
)

// Validation errors are user-caused and recoverable at the boundary; the
// command layer matches them with errors.Is / errors.As and renders a
// message from the context they carry.
var (
	ErrNoActiveTasks     = errors.New("team has no active tasks")
	ErrInvalidRole       = errors.New("role is not tied to a team or control role")
	ErrPermissionDenied  = errors.New("control roles deny this action")
	ErrNotInTeam         = errors.New("member is not in any team")
	ErrNoTeams           = errors.New("guild has no teams yet")
	ErrNoControlRoles    = errors.New("guild has no control roles yet")
	ErrTeamExists        = errors.New("role is already tied to a team")
	ErrControlRoleExists = errors.New("role is already tied to a control role")
	ErrTaskIndex         = errors.New("task index out of range")

	// ErrNoTargetChannel is a delivery error: resolution found no channel
	// the bot can send in.
	ErrNoTargetChannel = errors.New("no sendable target channel")
)

// PastDueError rejects a due instant that is not strictly in the future.
type PastDueError struct {
	Due time.Time
	Now time.Time
}

func (e *PastDueError) Error() string {
	return fmt.Sprintf("due instant %s is not in the future (now %s)",
		e.Due.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

// NoTasksOnDateError reports an empty result for a date query.
type NoTasksOnDateError struct {
	RoleID int64
	Date   timeutil.Date
}

func (e *NoTasksOnDateError) Error() string {
	return fmt.Sprintf("team %d has no tasks due on %s", e.RoleID, e.Date)
}

// NoTasksTaggedError reports an empty result for a tag query.
type NoTasksTaggedError struct {
	RoleID int64
	Tags   []string
}

func (e *NoTasksTaggedError) Error() string {
	return fmt.Sprintf("team %d has no tasks tagged with %v", e.RoleID, e.Tags)
}
