package weekcache

import (
	"sort"
	"sync"
	"time"

	"praxis/internal/metrics"
	"praxis/internal/models"
)

// DefaultTTL is how long a fetched week stays servable.
const DefaultTTL = 2 * time.Minute

// CachedWeek is one stored week of slots.
type CachedWeek struct {
	WeekKey   models.WeekKey
	Slots     []models.Slot
	FetchedAt time.Time
}

// Cache maps week keys to slot lists. Entries older than the TTL are never
// served; they behave exactly like absent entries.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[models.WeekKey]CachedWeek
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[models.WeekKey]CachedWeek),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the slots for key if a fresh entry exists.
func (c *Cache) Get(key models.WeekKey) ([]models.Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		metrics.IncCacheLookup("miss")
		return nil, false
	}
	if !c.fresh(entry) {
		delete(c.entries, key)
		metrics.IncCacheLookup("stale")
		return nil, false
	}
	metrics.IncCacheLookup("hit")
	return entry.Slots, true
}

// Valid reports whether key holds a fresh entry without counting a lookup.
func (c *Cache) Valid(key models.WeekKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	return ok && c.fresh(entry)
}

// Put stores slots for key, replacing any previous entry.
func (c *Cache) Put(key models.WeekKey, slots []models.Slot) {
	stored := make([]models.Slot, len(slots))
	copy(stored, slots)

	c.mu.Lock()
	c.entries[key] = CachedWeek{WeekKey: key, Slots: stored, FetchedAt: c.now()}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[models.WeekKey]CachedWeek)
	c.mu.Unlock()
}

// Len returns the number of fresh entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries {
		if c.fresh(e) {
			n++
		}
	}
	return n
}

// Snapshot returns all fresh entries in ascending week order.
func (c *Cache) Snapshot() []CachedWeek {
	c.mu.RLock()
	out := make([]CachedWeek, 0, len(c.entries))
	for _, e := range c.entries {
		if c.fresh(e) {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].WeekKey.Before(out[j].WeekKey)
	})
	return out
}

func (c *Cache) fresh(e CachedWeek) bool {
	return c.now().Sub(e.FetchedAt) < c.ttl
}
