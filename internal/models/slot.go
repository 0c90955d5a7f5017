package models

import (
	"sort"
	"time"
)

// Slot is one bookable appointment opening returned by the slot source.
// Slots are values and are never modified after they are fetched.
type Slot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	PractitionerID  string    `json:"practitioner_id,omitempty"`
}

// Valid reports whether the slot has a positive length.
func (s Slot) Valid() bool {
	return s.End.After(s.Start)
}

// DayGroup holds the slots that fall on one local calendar date.
type DayGroup struct {
	Date  string `json:"date"` // YYYY-MM-DD in the practice timezone
	Slots []Slot `json:"slots"`
}

// SortSlots orders slots by start time in place.
func SortSlots(slots []Slot) {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
}

// GroupByLocalDate buckets slots by their calendar date in loc.
// The date is taken from the local wall clock, so a late evening slot stays on
// its own day even when its UTC instant already belongs to the next one.
func GroupByLocalDate(slots []Slot, loc *time.Location) []DayGroup {
	if len(slots) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}

	sorted := make([]Slot, len(slots))
	copy(sorted, slots)
	SortSlots(sorted)

	var groups []DayGroup
	for _, s := range sorted {
		date := LocalDate(s.Start, loc)
		if n := len(groups); n > 0 && groups[n-1].Date == date {
			groups[n-1].Slots = append(groups[n-1].Slots, s)
			continue
		}
		groups = append(groups, DayGroup{Date: date, Slots: []Slot{s}})
	}
	return groups
}

// LocalDate formats t as YYYY-MM-DD on the wall clock of loc.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// EarliestSlot returns the slot with the smallest start time.
func EarliestSlot(slots []Slot) (Slot, bool) {
	if len(slots) == 0 {
		return Slot{}, false
	}
	earliest := slots[0]
	for _, s := range slots[1:] {
		if s.Start.Before(earliest.Start) {
			earliest = s
		}
	}
	return earliest, true
}
