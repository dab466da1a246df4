package services

import (
	"time"
)

// nyseHolidays are full-day NYSE closures
var nyseHolidays = []string{
	"2020-01-01", "2020-01-20", "2020-02-17", "2020-04-10", "2020-05-25", "2020-07-03", "2020-09-07", "2020-11-26", "2020-12-25",
	"2021-01-01", "2021-01-18", "2021-02-15", "2021-04-02", "2021-05-31", "2021-07-05", "2021-09-06", "2021-11-25", "2021-12-24",
	"2022-01-17", "2022-02-21", "2022-04-15", "2022-05-30", "2022-06-20", "2022-07-04", "2022-09-05", "2022-11-24", "2022-12-26",
	"2023-01-02", "2023-01-16", "2023-02-20", "2023-04-07", "2023-05-29", "2023-06-19", "2023-07-04", "2023-09-04", "2023-11-23", "2023-12-25",
	"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27", "2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
	"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26", "2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25", "2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
}

// TradingCalendar is a weekday calendar minus a fixed holiday list
type TradingCalendar struct {
	holidays map[string]bool
}

// NewTradingCalendar uses the built-in NYSE holidays
func NewTradingCalendar() *TradingCalendar {
	return NewTradingCalendarWithHolidays(nyseHolidays)
}

// NewTradingCalendarWithHolidays takes YYYY-MM-DD closure dates
func NewTradingCalendarWithHolidays(holidays []string) *TradingCalendar {
	set := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		set[h] = true
	}
	return &TradingCalendar{holidays: set}
}

// IsTradingDay reports whether the market is open on date
func (c *TradingCalendar) IsTradingDay(date time.Time) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.holidays[date.Format("2006-01-02")]
}

// TradingDays lists every trading day in [start, end], inclusive
func (c *TradingCalendar) TradingDays(start, end time.Time) []time.Time {
	days := make([]time.Time, 0)
	for d := truncateDay(start); !d.After(truncateDay(end)); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// IsFirstTradingDay reports whether date is the first session of its month
func (c *TradingCalendar) IsFirstTradingDay(date time.Time) bool {
	if !c.IsTradingDay(date) {
		return false
	}
	for d := truncateDay(date).AddDate(0, 0, -1); d.Month() == date.Month(); d = d.AddDate(0, 0, -1) {
		if c.IsTradingDay(d) {
			return false
		}
	}
	return true
}
