// Package tradinghours provides a config-driven trading-session clock:
// start/end time-of-day bounds in a fixed location, weekends closed, plus
// an optional holiday calendar. Generalized off the teacher's
// internal/markethours package, which hardcoded NSE's 9:15–15:30 IST
// session; here the bounds and location come from config so the same
// clock serves any single-session equities market.
package tradinghours

import (
	"fmt"
	"time"
)

// Clock answers trading-session questions for one market.
type Clock struct {
	loc                        *time.Location
	startHour, startMinute     int
	endHour, endMinute         int
	holidays                   map[string]bool
}

// Config configures a Clock.
type Config struct {
	Location                       *time.Location
	StartHour, StartMinute         int
	EndHour, EndMinute             int
	// Holidays is a set of "YYYY-MM-DD" dates (in Location) the market is
	// closed despite being a weekday. Optional.
	Holidays []string
}

// New builds a Clock from cfg. Location defaults to UTC if nil.
func New(cfg Config) *Clock {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	holidays := make(map[string]bool, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		holidays[h] = true
	}
	return &Clock{
		loc:         loc,
		startHour:   cfg.StartHour,
		startMinute: cfg.StartMinute,
		endHour:     cfg.EndHour,
		endMinute:   cfg.EndMinute,
		holidays:    holidays,
	}
}

// IsHoliday reports whether t's calendar date (in the clock's location) is
// in the configured holiday set.
func (c *Clock) IsHoliday(t time.Time) bool {
	return c.holidays[c.dateKey(t)]
}

func (c *Clock) dateKey(t time.Time) string {
	local := t.In(c.loc)
	return fmt.Sprintf("%04d-%02d-%02d", local.Year(), local.Month(), local.Day())
}

// IsWeekday reports whether t (in the clock's location) falls Mon–Fri.
func (c *Clock) IsWeekday(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay reports whether t is a weekday and not a holiday.
func (c *Clock) IsTradingDay(t time.Time) bool {
	return c.IsWeekday(t) && !c.IsHoliday(t)
}

// IsOpen reports whether t falls within the configured session on a
// trading day.
func (c *Clock) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.loc)
	hm := local.Hour()*60 + local.Minute()
	return hm >= c.startHour*60+c.startMinute && hm < c.endHour*60+c.endMinute
}

// TodayClose returns today's session close time for t's calendar date.
func (c *Clock) TodayClose(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.endHour, c.endMinute, 0, 0, c.loc)
}

// TodayOpen returns today's session open time for t's calendar date.
func (c *Clock) TodayOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.startHour, c.startMinute, 0, 0, c.loc)
}

// NextOpen returns the next session open at or after t: today's open if t
// is before it on a trading day, otherwise the open of the next trading
// day found within a 10-day lookahead.
func (c *Clock) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)

	todayOpen := c.TodayOpen(local)
	if local.Before(todayOpen) && c.IsTradingDay(local) {
		return todayOpen
	}

	d := local.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if c.IsTradingDay(d) {
			return c.TodayOpen(d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return c.TodayOpen(local.AddDate(0, 0, 1))
}

// TimeUntilClose returns the duration until today's close, or 0 if the
// session has already ended.
func (c *Clock) TimeUntilClose(t time.Time) time.Duration {
	d := c.TodayClose(t).Sub(t.In(c.loc))
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next session open.
func (c *Clock) TimeUntilOpen(t time.Time) time.Duration {
	return c.NextOpen(t).Sub(t.In(c.loc))
}

// StatusString renders a human-readable session status, e.g. for a
// status endpoint or startup log line.
func (c *Clock) StatusString(t time.Time) string {
	if c.IsOpen(t) {
		return fmt.Sprintf("market open — closes in %s", fmtDur(c.TimeUntilClose(t)))
	}
	next := c.NextOpen(t)
	return fmt.Sprintf("market closed — opens %s %s (%s)",
		next.Weekday().String()[:3], next.Format("15:04"), fmtDur(c.TimeUntilOpen(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
