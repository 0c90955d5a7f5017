package bookable

import (
	"fmt"
	"time"

	"praxis/internal/models"
)

// Rules describes the practice's business hours and booking buffer.
type Rules struct {
	// Timezone is the reference zone business hours are defined in (e.g. "Europe/Berlin").
	Timezone string
	// StartHour is the hour (0-23) the business day opens.
	StartHour int
	// EndHour is the hour (1-24) the business day closes.
	EndHour int
	// Buffer must elapse, counted only through business hours, before a slot may be offered.
	Buffer time.Duration
	// Weekdays lists business days. Empty means Monday to Friday.
	Weekdays []time.Weekday
}

// DefaultRules returns the practice defaults: Mon-Fri 08:00-18:00 with a 3 hour buffer.
func DefaultRules() Rules {
	return Rules{
		Timezone:  "Europe/Berlin",
		StartHour: 8,
		EndHour:   18,
		Buffer:    3 * time.Hour,
	}
}

// Calculator computes the earliest instant a new appointment may start.
// It is stateless after construction and safe for concurrent use.
type Calculator struct {
	loc       *time.Location
	startHour int
	endHour   int
	buffer    time.Duration
	days      [7]bool
}

// NewCalculator validates rules and builds a Calculator.
func NewCalculator(rules Rules) (*Calculator, error) {
	loc, err := time.LoadLocation(rules.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", rules.Timezone, err)
	}
	if rules.StartHour < 0 || rules.EndHour > 24 || rules.StartHour >= rules.EndHour {
		return nil, fmt.Errorf("invalid business hours %d-%d", rules.StartHour, rules.EndHour)
	}
	if rules.Buffer < 0 {
		return nil, fmt.Errorf("negative buffer %s", rules.Buffer)
	}

	c := &Calculator{
		loc:       loc,
		startHour: rules.StartHour,
		endHour:   rules.EndHour,
		buffer:    rules.Buffer,
	}
	weekdays := rules.Weekdays
	if len(weekdays) == 0 {
		weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	for _, d := range weekdays {
		c.days[d] = true
	}
	return c, nil
}

// Location returns the reference timezone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// EarliestBookableTime returns the first instant at or after now+buffer, with the
// buffer counted through business hours only, rounded up to a whole hour.
//
// A business day whose remaining hours cannot hold the rest of the buffer is
// abandoned and counting resumes at the next business day's opening. Complete
// business days are consumed when the buffer is longer than a day.
func (c *Calculator) EarliestBookableTime(now time.Time) time.Time {
	t := now.In(c.loc)

	switch {
	case c.isBusinessDay(t) && t.Before(c.opening(t)):
		t = c.opening(t)
	case !c.isBusinessDay(t) || !t.Before(c.closing(t)):
		t = c.nextOpening(t)
	}

	remaining := c.buffer
	dayLength := time.Duration(c.endHour-c.startHour) * time.Hour
	for remaining > 0 {
		left := c.closing(t).Sub(t)
		if remaining <= left {
			t = t.Add(remaining)
			break
		}
		if t.Equal(c.opening(t)) && remaining > dayLength {
			remaining -= dayLength
		}
		t = c.nextOpening(t)
	}

	return c.ceilHour(t)
}

// FilterBookable drops slots starting before the earliest bookable instant for now.
func (c *Calculator) FilterBookable(slots []models.Slot, now time.Time) []models.Slot {
	earliest := c.EarliestBookableTime(now)
	out := make([]models.Slot, 0, len(slots))
	for _, s := range slots {
		if s.Start.Before(earliest) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// IsBusinessHour reports whether t falls inside business hours.
func (c *Calculator) IsBusinessHour(t time.Time) bool {
	t = t.In(c.loc)
	return c.isBusinessDay(t) && !t.Before(c.opening(t)) && t.Before(c.closing(t))
}

func (c *Calculator) isBusinessDay(t time.Time) bool {
	return c.days[t.Weekday()]
}

func (c *Calculator) opening(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.startHour, 0, 0, 0, c.loc)
}

func (c *Calculator) closing(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.endHour, 0, 0, 0, c.loc)
}

// nextOpening returns the opening hour of the first business day after t's date.
func (c *Calculator) nextOpening(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, c.loc)
	for i := 0; i < 7 && !c.isBusinessDay(day); i++ {
		day = day.AddDate(0, 0, 1)
	}
	return c.opening(day)
}

func (c *Calculator) ceilHour(t time.Time) time.Time {
	floor := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, c.loc)
	if floor.Equal(t) {
		return t
	}
	return floor.Add(time.Hour)
}
