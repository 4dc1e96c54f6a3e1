// Package reltime formats elapsed time as short age labels such as "30s", "5m", "3h", "2d".
package reltime

import (
	"strconv"
	"time"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock always returns the same instant. Used in tests.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time {
	return c.T
}

// Formatter turns timestamps into age labels relative to its clock.
type Formatter struct {
	clock Clock
}

// NewFormatter creates a formatter. A nil clock falls back to SystemClock.
func NewFormatter(clock Clock) *Formatter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Formatter{clock: clock}
}

// Since returns the age label for t. The clock is read once per call.
func (f *Formatter) Since(t time.Time) string {
	return Label(f.clock.Now().Sub(t))
}

// FormatMillis returns the age label for a timestamp in milliseconds since the Unix epoch.
func (f *Formatter) FormatMillis(ms int64) string {
	return f.Since(time.UnixMilli(ms))
}

// Label formats an elapsed duration. Sub-second remainders are truncated
// and every unit is floored. Negative durations are clamped to zero.
func Label(elapsed time.Duration) string {
	secs := int64(elapsed / time.Second)
	if secs < 0 {
		secs = 0
	}

	switch {
	case secs < secondsPerMinute:
		return strconv.FormatInt(secs, 10) + "s"
	case secs < secondsPerHour:
		return strconv.FormatInt(secs/secondsPerMinute, 10) + "m"
	case secs < secondsPerDay:
		return strconv.FormatInt(secs/secondsPerHour, 10) + "h"
	default:
		return strconv.FormatInt(secs/secondsPerDay, 10) + "d"
	}
}
