package util

import (
	"time"
)

// marketOpenMinutes and marketCloseMinutes bound the regular US equity session
// (9:30-16:00 ET) in minutes from midnight.
const (
	marketOpenMinutes  = 9*60 + 30
	marketCloseMinutes = 16 * 60
)

// TradingCalendar answers market-hours questions for the regular US equity
// session. It knows weekends and session times, not exchange holidays; jobs
// that must be holiday-exact consult the broker's calendar API instead.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar operating in US Eastern time.
func NewTradingCalendar() (*TradingCalendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	return &TradingCalendar{loc: loc}, nil
}

// Location returns the calendar's time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	et := t.In(tc.loc)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	mins := et.Hour()*60 + et.Minute()
	return mins >= marketOpenMinutes && mins < marketCloseMinutes
}

// IsTradingDay returns whether t falls on a weekday.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	wd := t.In(tc.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// PreviousTradingDay returns the most recent weekday strictly before t,
// truncated to midnight ET.
func (tc *TradingCalendar) PreviousTradingDay(t time.Time) time.Time {
	et := t.In(tc.loc)
	day := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, tc.loc)
	for {
		day = day.AddDate(0, 0, -1)
		if tc.IsTradingDay(day) {
			return day
		}
	}
}
