package scheduler

import (
	"time"
)

// DailySchedule fires once a day at a fixed wall-clock time in a specific
// location. robfig/cron evaluates schedules in the cron's own location, so
// per-guild zones need a Schedule implementation that carries its zone with
// it; this is it.
type DailySchedule struct {
	Hour   int
	Minute int
	Loc    *time.Location
}

// Next implements cron.Schedule. It returns the next Hour:Minute in Loc
// strictly after t.
func (d DailySchedule) Next(t time.Time) time.Time {
	loc := d.Loc
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	next := time.Date(lt.Year(), lt.Month(), lt.Day(), d.Hour, d.Minute, 0, 0, loc)
	if !next.After(lt) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
