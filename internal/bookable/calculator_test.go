package bookable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"praxis/internal/models"
)

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(DefaultRules())
	require.NoError(t, err)
	return c
}

func TestEarliestBookableTime(t *testing.T) {
	c := newTestCalculator(t)
	loc := c.Location()
	// 2026-10-12 is a Monday.
	at := func(day, hour, minute int) time.Time {
		return time.Date(2026, 10, day, hour, minute, 0, 0, loc)
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{name: "monday morning fits same day", now: at(12, 10, 0), want: at(12, 13, 0)},
		{name: "monday afternoon spills into tuesday", now: at(12, 16, 0), want: at(13, 11, 0)},
		{name: "friday evening skips weekend", now: at(16, 17, 0), want: at(19, 11, 0)},
		{name: "saturday morning", now: at(17, 9, 0), want: at(19, 11, 0)},
		{name: "sunday night", now: at(18, 23, 59), want: at(19, 11, 0)},
		{name: "before opening clamps to start", now: at(13, 6, 15), want: at(13, 11, 0)},
		{name: "after closing", now: at(13, 18, 0), want: at(14, 11, 0)},
		{name: "fractional hour rounds up", now: at(14, 9, 20), want: at(14, 13, 0)},
		{name: "buffer ends exactly at closing", now: at(14, 15, 0), want: at(14, 18, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.EarliestBookableTime(tt.now)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestEarliestBookableTime_ConvertsFromOtherZones(t *testing.T) {
	c := newTestCalculator(t)
	// 08:00 UTC is 10:00 in Berlin during summer time.
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	got := c.EarliestBookableTime(now)
	assert.True(t, time.Date(2026, 6, 1, 13, 0, 0, 0, c.Location()).Equal(got), "got %s", got)
}

func TestEarliestBookableTime_LongBufferConsumesWholeDays(t *testing.T) {
	rules := DefaultRules()
	rules.Buffer = 24 * time.Hour
	c, err := NewCalculator(rules)
	require.NoError(t, err)
	loc := c.Location()

	// Monday 12:00: the rest of Monday is abandoned, Tuesday and Wednesday are
	// consumed whole (20h), and the last 4h land on Thursday.
	got := c.EarliestBookableTime(time.Date(2026, 10, 12, 12, 0, 0, 0, loc))
	assert.True(t, time.Date(2026, 10, 15, 12, 0, 0, 0, loc).Equal(got), "got %s", got)
}

func TestEarliestBookableTime_Deterministic(t *testing.T) {
	c := newTestCalculator(t)
	now := time.Date(2026, 10, 15, 11, 11, 0, 0, c.Location())
	assert.Equal(t, c.EarliestBookableTime(now), c.EarliestBookableTime(now))
}

func TestNewCalculator_Validation(t *testing.T) {
	bad := DefaultRules()
	bad.Timezone = "Mars/Olympus"
	_, err := NewCalculator(bad)
	assert.Error(t, err)

	bad = DefaultRules()
	bad.StartHour, bad.EndHour = 18, 8
	_, err = NewCalculator(bad)
	assert.Error(t, err)

	bad = DefaultRules()
	bad.Buffer = -time.Hour
	_, err = NewCalculator(bad)
	assert.Error(t, err)
}

func TestFilterBookable(t *testing.T) {
	c := newTestCalculator(t)
	loc := c.Location()
	now := time.Date(2026, 10, 12, 10, 0, 0, 0, loc)
	slot := func(hour int) models.Slot {
		start := time.Date(2026, 10, 12, hour, 0, 0, 0, loc)
		return models.Slot{Start: start, End: start.Add(50 * time.Minute), DurationMinutes: 50}
	}

	got := c.FilterBookable([]models.Slot{slot(11), slot(12), slot(13), slot(15)}, now)
	require.Len(t, got, 2)
	assert.Equal(t, 13, got[0].Start.Hour())
	assert.Equal(t, 15, got[1].Start.Hour())
}

func TestIsBusinessHour(t *testing.T) {
	c := newTestCalculator(t)
	loc := c.Location()

	assert.True(t, c.IsBusinessHour(time.Date(2026, 10, 12, 8, 0, 0, 0, loc)))
	assert.False(t, c.IsBusinessHour(time.Date(2026, 10, 12, 18, 0, 0, 0, loc)))
	assert.False(t, c.IsBusinessHour(time.Date(2026, 10, 17, 12, 0, 0, 0, loc)))
}
