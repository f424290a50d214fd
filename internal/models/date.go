package models

import (
	"fmt"
	"time"
)

// DateLayout is the on-disk date format. It is fixed-width and zero-padded,
// which is what makes lexical comparison of stored dates chronological.
const DateLayout = "2006-01-02"

// Date is a calendar day in DateLayout form.
type Date string

// ParseDate validates s as an exact YYYY-MM-DD calendar date.
func ParseDate(s string) (Date, error) {
	if len(s) != len(DateLayout) {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	if t.Format(DateLayout) != s {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date(s), nil
}

// MustParseDate is ParseDate for constants and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// Today returns the current local calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// Valid reports whether d is a well-formed date.
func (d Date) Valid() bool {
	_, err := ParseDate(string(d))
	return err == nil
}

// Time returns midnight UTC of d. The zero time is returned for invalid dates.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// String returns the date in DateLayout form.
func (d Date) String() string {
	return string(d)
}

// MonthRange returns the first and last day of the given month.
func MonthRange(year int, month time.Month) (Date, Date) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return DateOf(first), DateOf(last)
}
