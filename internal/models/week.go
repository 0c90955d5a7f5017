package models

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

var ErrInvalidWeek = errors.New("invalid week key")

// WeekKey names a calendar week by the date of its Monday in the practice
// timezone, formatted as YYYY-MM-DD. It is the cache key for weekly slot lists.
type WeekKey string

// WeekOf returns the key of the Monday-to-Sunday week containing t in loc.
func WeekOf(t time.Time, loc *time.Location) WeekKey {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	offset := (int(local.Weekday()) + 6) % 7 // Monday => 0, Sunday => 6
	monday := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
	return WeekKey(monday.Format(DateLayout))
}

// ParseWeekKey accepts any YYYY-MM-DD date and normalizes it to its week.
func ParseWeekKey(s string) (WeekKey, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidWeek, s)
	}
	return WeekOf(d, time.UTC), nil
}

func (k WeekKey) String() string { return string(k) }

// date returns the Monday as a UTC midnight, used for calendar arithmetic only.
func (k WeekKey) date() time.Time {
	d, err := time.Parse(DateLayout, string(k))
	if err != nil {
		return time.Time{}
	}
	return d
}

// Valid reports whether k is a well-formed Monday date.
func (k WeekKey) Valid() bool {
	d, err := time.Parse(DateLayout, string(k))
	return err == nil && d.Weekday() == time.Monday
}

// AddWeeks moves the key n weeks forward (or back for negative n).
func (k WeekKey) AddWeeks(n int) WeekKey {
	return WeekKey(k.date().AddDate(0, 0, 7*n).Format(DateLayout))
}

func (k WeekKey) Next() WeekKey { return k.AddWeeks(1) }

func (k WeekKey) Prev() WeekKey { return k.AddWeeks(-1) }

// Before reports whether k is an earlier week than other.
func (k WeekKey) Before(other WeekKey) bool {
	return k.date().Before(other.date())
}

// Start returns local midnight of the Monday in loc.
func (k WeekKey) Start(loc *time.Location) time.Time {
	d := k.date()
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// End returns local midnight of the following Monday, the exclusive end of the week.
func (k WeekKey) End(loc *time.Location) time.Time {
	d := k.date()
	return time.Date(d.Year(), d.Month(), d.Day()+7, 0, 0, 0, 0, loc)
}

// Contains reports whether the local date string falls within the week.
func (k WeekKey) Contains(date string) bool {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	return WeekOf(d, time.UTC) == k
}
