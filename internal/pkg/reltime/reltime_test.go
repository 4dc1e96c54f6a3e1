package reltime

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var referenceNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestFormatter_Since(t *testing.T) {
	f := NewFormatter(FixedClock{T: referenceNow})

	tests := []struct {
		name     string
		ago      time.Duration
		expected string
	}{
		{"seconds", 30 * time.Second, "30s"},
		{"minutes", 5 * time.Minute, "5m"},
		{"hours", 3 * time.Hour, "3h"},
		{"days", 48 * time.Hour, "2d"},
		{"now", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.Since(referenceNow.Add(-tt.ago)))
		})
	}
}

func TestFormatter_FormatMillis(t *testing.T) {
	f := NewFormatter(FixedClock{T: referenceNow})
	now := referenceNow.UnixMilli()

	assert.Equal(t, "30s", f.FormatMillis(now-30_000))
	assert.Equal(t, "5m", f.FormatMillis(now-5*60_000))
	assert.Equal(t, "3h", f.FormatMillis(now-3*3_600_000))
	assert.Equal(t, "2d", f.FormatMillis(now-2*86_400_000))
	assert.Equal(t, "0s", f.FormatMillis(now))
}

func TestLabel_Boundaries(t *testing.T) {
	tests := []struct {
		elapsed  int64
		expected string
	}{
		{0, "0s"},
		{59, "59s"},
		{60, "1m"},
		{119, "1m"},
		{3599, "59m"},
		{3600, "1h"},
		{86399, "23h"},
		{86400, "1d"},
		{172800, "2d"},
		{10 * 365 * 86400, "3650d"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%ds", tt.elapsed), func(t *testing.T) {
			assert.Equal(t, tt.expected, Label(time.Duration(tt.elapsed)*time.Second))
		})
	}
}

func TestLabel_Ranges(t *testing.T) {
	for s := int64(0); s < 60; s++ {
		assert.Equal(t, fmt.Sprintf("%ds", s), Label(time.Duration(s)*time.Second))
	}
	for s := int64(60); s < 3600; s += 7 {
		assert.Equal(t, fmt.Sprintf("%dm", s/60), Label(time.Duration(s)*time.Second))
	}
	for s := int64(3600); s < 86400; s += 97 {
		assert.Equal(t, fmt.Sprintf("%dh", s/3600), Label(time.Duration(s)*time.Second))
	}
	for s := int64(86400); s < 40*86400; s += 3001 {
		assert.Equal(t, fmt.Sprintf("%dd", s/86400), Label(time.Duration(s)*time.Second))
	}
}

func TestLabel_TruncatesSubSecond(t *testing.T) {
	assert.Equal(t, "0s", Label(999*time.Millisecond))
	assert.Equal(t, "59s", Label(59*time.Second+999*time.Millisecond))
	assert.Equal(t, "59m", Label(time.Hour-time.Millisecond))
}

func TestLabel_FutureClampsToZero(t *testing.T) {
	assert.Equal(t, "0s", Label(-5*time.Second))
}

func TestNewFormatter_NilClockUsesSystemClock(t *testing.T) {
	f := NewFormatter(nil)
	assert.Equal(t, "0s", f.Since(time.Now()))
}

func TestFormatter_ReadsClockOncePerCall(t *testing.T) {
	c := &countingClock{t: referenceNow}
	f := NewFormatter(c)

	f.Since(referenceNow)
	f.FormatMillis(referenceNow.UnixMilli())

	assert.Equal(t, 2, c.calls)
}

type countingClock struct {
	t     time.Time
	calls int
}

func (c *countingClock) Now() time.Time {
	c.calls++
	return c.t
}
