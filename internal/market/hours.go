// Package market provides market calendar and notify window awareness.
package market

import (
	"fmt"
	"time"

	"stock-alert/internal/config"
)

// Calendar decides whether a moment falls inside the notify window.
type Calendar struct {
	loc      *time.Location
	weekdays map[time.Weekday]bool
	start    int // minutes after midnight
	end      int
	holidays map[string]bool // YYYY-MM-DD
}

// NewCalendar creates a calendar. Start and end are minutes after midnight in
// loc; the window is [start, end).
func NewCalendar(loc *time.Location, weekdays []time.Weekday, start, end int) *Calendar {
	c := &Calendar{
		loc:      loc,
		weekdays: make(map[time.Weekday]bool, len(weekdays)),
		start:    start,
		end:      end,
		holidays: make(map[string]bool),
	}
	for _, d := range weekdays {
		c.weekdays[d] = true
	}
	return c
}

// NewCalendarFromConfig builds the calendar from the market and alert window
// settings.
func NewCalendarFromConfig(cfg *config.Config) (*Calendar, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	days, err := config.ParseWeekdays(cfg.Alerts.Window.Weekdays)
	if err != nil {
		return nil, err
	}
	start, err := config.ParseClock(cfg.Alerts.Window.Start)
	if err != nil {
		return nil, err
	}
	end, err := config.ParseClock(cfg.Alerts.Window.End)
	if err != nil {
		return nil, err
	}

	c := NewCalendar(loc, days, start, end)
	for _, h := range cfg.Market.Holidays {
		d, err := time.ParseInLocation("2006-01-02", h, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.AddHoliday(d)
	}
	return c, nil
}

// Location returns the market time zone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// AddHoliday adds a market holiday.
func (c *Calendar) AddHoliday(date time.Time) {
	c.holidays[date.In(c.loc).Format("2006-01-02")] = true
}

// IsHoliday checks if a date is a market holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[t.In(c.loc).Format("2006-01-02")]
}

// IsOpenAt reports whether t is inside the notify window.
func (c *Calendar) IsOpenAt(t time.Time) bool {
	t = t.In(c.loc)
	if !c.weekdays[t.Weekday()] || c.IsHoliday(t) {
		return false
	}
	minutes := t.Hour()*60 + t.Minute()
	return minutes >= c.start && minutes < c.end
}

// NextOpen returns the next window opening at or after t.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	t = t.In(c.loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), c.start/60, c.start%60, 0, 0, c.loc)
	if t.After(next) {
		next = next.AddDate(0, 0, 1)
	}
	for i := 0; i < 366 && (!c.weekdays[next.Weekday()] || c.IsHoliday(next)); i++ {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Today returns the market-local calendar date of t as YYYY-MM-DD.
func (c *Calendar) Today(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// WindowLabel renders the open state the way check notes show it.
func WindowLabel(open bool) string {
	if open {
		return "OPEN"
	}
	return "CLOSED"
}

// CheckNote formats the status note stored with every quote check:
// "2026-10-16 09:35:00 EDT | Window: OPEN | Price check ok".
func (c *Calendar) CheckNote(now time.Time, result string) string {
	local := now.In(c.loc)
	return fmt.Sprintf("%s | Window: %s | %s",
		local.Format("2006-01-02 15:04:05 MST"), WindowLabel(c.IsOpenAt(now)), result)
}
