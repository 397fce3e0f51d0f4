package tradinghours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func krxClock() *Clock {
	loc := time.FixedZone("KST", 9*3600)
	return New(Config{
		Location:    loc,
		StartHour:   9,
		StartMinute: 0,
		EndHour:     15,
		EndMinute:   30,
		Holidays:    []string{"2026-01-01"},
	})
}

func TestClock_IsOpen_WithinSession(t *testing.T) {
	c := krxClock()
	loc := time.FixedZone("KST", 9*3600)
	tm := time.Date(2026, 7, 30, 10, 0, 0, 0, loc) // Thursday
	require.True(t, c.IsOpen(tm))
}

func TestClock_IsOpen_FalseOnWeekend(t *testing.T) {
	c := krxClock()
	loc := time.FixedZone("KST", 9*3600)
	tm := time.Date(2026, 8, 1, 10, 0, 0, 0, loc) // Saturday
	require.False(t, c.IsOpen(tm))
}

func TestClock_IsOpen_FalseOnHoliday(t *testing.T) {
	c := krxClock()
	loc := time.FixedZone("KST", 9*3600)
	tm := time.Date(2026, 1, 1, 10, 0, 0, 0, loc)
	require.False(t, c.IsOpen(tm))
}

func TestClock_IsOpen_FalseOutsideHours(t *testing.T) {
	c := krxClock()
	loc := time.FixedZone("KST", 9*3600)
	tm := time.Date(2026, 7, 30, 16, 0, 0, 0, loc)
	require.False(t, c.IsOpen(tm))
}

func TestClock_NextOpen_SkipsWeekend(t *testing.T) {
	c := krxClock()
	loc := time.FixedZone("KST", 9*3600)
	fri := time.Date(2026, 7, 31, 16, 0, 0, 0, loc) // after close Friday
	next := c.NextOpen(fri)
	require.Equal(t, time.Monday, next.Weekday())
}
