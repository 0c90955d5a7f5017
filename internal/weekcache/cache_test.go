package weekcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"praxis/internal/models"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testSlots(n int) []models.Slot {
	base := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	out := make([]models.Slot, n)
	for i := range out {
		start := base.Add(time.Duration(i) * time.Hour)
		out[i] = models.Slot{Start: start, End: start.Add(50 * time.Minute), DurationMinutes: 50}
	}
	return out
}

func TestCache_PutThenGet(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	c := New(2*time.Minute, WithClock(clock.Now))
	key := models.WeekKey("2026-10-12")
	slots := testSlots(3)

	c.Put(key, slots)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, slots, got)
	assert.True(t, c.Valid(key))
	assert.Equal(t, 1, c.Len())
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	c := New(2*time.Minute, WithClock(clock.Now))
	key := models.WeekKey("2026-10-12")
	c.Put(key, testSlots(1))

	clock.Advance(2*time.Minute - time.Second)
	_, ok := c.Get(key)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok, "entry at exactly TTL must be a miss")
	assert.False(t, c.Valid(key))
	assert.Zero(t, c.Len())
}

func TestCache_EmptyWeekIsAHit(t *testing.T) {
	c := New(0)
	key := models.WeekKey("2026-10-12")
	c.Put(key, nil)

	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Empty(t, got)
	assert.Equal(t, DefaultTTL, c.TTL())
}

func TestCache_PutOverwritesAndRestampsAge(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	c := New(2*time.Minute, WithClock(clock.Now))
	key := models.WeekKey("2026-10-12")

	c.Put(key, testSlots(3))
	clock.Advance(90 * time.Second)
	c.Put(key, testSlots(1))
	clock.Advance(90 * time.Second)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Len(t, got, 1)
}

func TestCache_PutCopiesInput(t *testing.T) {
	c := New(time.Minute)
	key := models.WeekKey("2026-10-12")
	slots := testSlots(2)
	c.Put(key, slots)

	slots[0].DurationMinutes = 999

	got, _ := c.Get(key)
	assert.Equal(t, 50, got[0].DurationMinutes)
}

func TestCache_Clear(t *testing.T) {
	c := New(time.Minute)
	c.Put("2026-10-12", testSlots(1))
	c.Put("2026-10-19", testSlots(1))

	c.Clear()

	assert.Zero(t, c.Len())
	_, ok := c.Get("2026-10-12")
	assert.False(t, ok)
}

func TestCache_SnapshotOrdered(t *testing.T) {
	c := New(time.Minute)
	c.Put("2026-11-02", testSlots(1))
	c.Put("2026-10-12", testSlots(2))
	c.Put("2026-10-26", nil)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, models.WeekKey("2026-10-12"), snap[0].WeekKey)
	assert.Equal(t, models.WeekKey("2026-10-26"), snap[1].WeekKey)
	assert.Equal(t, models.WeekKey("2026-11-02"), snap[2].WeekKey)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(time.Minute)
	key := models.WeekKey("2026-10-12")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%2 == 0 {
					c.Put(key, testSlots(n%4))
				} else {
					_, _ = c.Get(key)
				}
			}
		}(i)
	}
	wg.Wait()

	_, ok := c.Get(key)
	assert.True(t, ok)
}
