package rqlite

import (
	"fmt"
	"time"
)

// Date is a calendar date without a time-of-day component. SQLite has no
// dedicated date type, so DATE columns travel as ISO-8601 strings; Date
// gives callers a distinct host type so the adapter and converter sides
// can round-trip it losslessly.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate constructs a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf extracts the calendar date from a time.Time.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// String formats the date as ISO-8601 (2006-01-02).
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// WireValuer is an optional capability interface: a value that knows how
// to represent itself on the wire. It is consulted only after the
// built-in kinds and the registered adapters have been tried. The second
// return reports whether the value produced a usable representation.
type WireValuer interface {
	ToWireValue() (any, bool)
}
