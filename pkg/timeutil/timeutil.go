// Package timeutil provides calendar-day helpers evaluated in a caller-supplied
// time zone. Streaks and time-of-day achievement windows are defined in the
// zone the platform is configured for, not in UTC.
package timeutil

import (
	"fmt"
	"time"
)

// LoadLocation resolves an IANA zone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	return loc, nil
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// Day is a calendar date with no time-of-day or zone attached.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar date of t as observed in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(orUTC(loc)).Date()
	return Day{Year: y, Month: m, Day: d}
}

// String formats the day as YYYY-MM-DD.
func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ordinal counts days since an arbitrary epoch. UTC midnight avoids DST gaps.
func (d Day) ordinal() int64 {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// Sub returns the number of calendar days from o to d (d - o).
func (d Day) Sub(o Day) int {
	return int(d.ordinal() - o.ordinal())
}

// Before reports whether d is strictly earlier than o.
func (d Day) Before(o Day) bool { return d.Sub(o) < 0 }

// HourIn returns the wall-clock hour (0-23) of t in loc.
func HourIn(t time.Time, loc *time.Location) int {
	return t.In(orUTC(loc)).Hour()
}

// InHourWindow reports whether hour lies in [start, end). A window whose end
// is not after its start wraps past midnight, so (22, 4) covers 22:00-03:59.
func InHourWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
