// Package timeutil holds the engine's clock abstraction and the small
// amount of calendar arithmetic the guild tree needs. Everything here is
// pure; background timers live in internal/scheduler.
package timeutil

import (
	"fmt"
	"math"
	"time"
)

// Clock supplies wall-clock time. The engine never calls time.Now directly
// so tests can pin "now".
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the real wall clock.
func System() Clock { return systemClock{} }

// FixedOffset builds a fixed-offset location from an hour offset relative
// to UTC. Fractional offsets (e.g. 5.5 for IST) are supported.
func FixedOffset(hours float64) *time.Location {
	secs := int(math.Round(hours * 3600))
	return time.FixedZone(zoneName(secs), secs)
}

func zoneName(offsetSecs int) string {
	sign := "+"
	if offsetSecs < 0 {
		sign = "-"
		offsetSecs = -offsetSecs
	}
	h := offsetSecs / 3600
	m := (offsetSecs % 3600) / 60
	return fmt.Sprintf("UTC%s%02d:%02d", sign, h, m)
}

// OffsetHours reports t's UTC offset in hours.
func OffsetHours(t time.Time) float64 {
	_, secs := t.Zone()
	return float64(secs) / 3600
}
