package search

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"praxis/internal/bookable"
	"praxis/internal/metrics"
	"praxis/internal/models"
	"praxis/internal/slotsource"
	"praxis/internal/weekcache"
)

var (
	ErrViewClosed     = errors.New("calendar view closed")
	ErrDayOutsideWeek = errors.New("day is outside the displayed week")
)

// Config holds search limits.
type Config struct {
	// CapWeeks is the most weeks one auto-advancing search examines.
	CapWeeks int
	// RefreshInterval re-fetches the displayed week while a view is open.
	RefreshInterval time.Duration
	// CachedDurationMinutes is the session length the shared week cache holds.
	// Requests for other lengths go straight to the slot source.
	CachedDurationMinutes int
}

// DefaultConfig returns a 12 week cap and a 60 second refresh.
func DefaultConfig() Config {
	return Config{
		CapWeeks:              12,
		RefreshInterval:       60 * time.Second,
		CachedDurationMinutes: 50,
	}
}

// Engine holds the collaborators shared by every calendar view.
type Engine struct {
	config Config
	source slotsource.Source
	cache  *weekcache.Cache
	calc   *bookable.Calculator
	logger *zerolog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for bookable filtering and default weeks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a search engine over source and cache.
func NewEngine(
	config Config,
	source slotsource.Source,
	cache *weekcache.Cache,
	calc *bookable.Calculator,
	logger *zerolog.Logger,
	opts ...Option,
) *Engine {
	if config.CapWeeks <= 0 {
		config.CapWeeks = DefaultConfig().CapWeeks
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultConfig().RefreshInterval
	}
	if config.CachedDurationMinutes <= 0 {
		config.CachedDurationMinutes = DefaultConfig().CachedDurationMinutes
	}
	e := &Engine{
		config: config,
		source: source,
		cache:  cache,
		calc:   calc,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine settings.
func (e *Engine) Config() Config {
	return e.config
}

// Location returns the practice timezone.
func (e *Engine) Location() *time.Location {
	return e.calc.Location()
}

// CurrentWeek returns the week containing now in the practice timezone.
func (e *Engine) CurrentWeek() models.WeekKey {
	return models.WeekOf(e.now(), e.calc.Location())
}

// Open creates a calendar view in auto-search mode.
func (e *Engine) Open() *View {
	metrics.IncOpenViews()
	return &View{
		id:     uuid.NewString(),
		engine: e,
		state: SearchState{
			AutoSearch: true,
			EmptyWeeks: make(map[models.WeekKey]struct{}),
		},
	}
}

// cacheable reports whether a query may be answered from and stored in the shared cache.
func (e *Engine) cacheable(durationMinutes int, practitionerID string) bool {
	return practitionerID == "" && durationMinutes == e.config.CachedDurationMinutes
}

// lookup returns bookable slots for week, using the cache for unfiltered queries.
func (e *Engine) lookup(ctx context.Context, week models.WeekKey, durationMinutes int, practitionerID string) ([]models.Slot, error) {
	cacheable := e.cacheable(durationMinutes, practitionerID)
	if cacheable {
		if slots, ok := e.cache.Get(week); ok {
			return e.calc.FilterBookable(slots, e.now()), nil
		}
	}
	return e.fetch(ctx, week, durationMinutes, practitionerID, false)
}

// fetch always calls the slot source and stores cacheable answers. With fresh
// set, shared response caches in front of the remote API are skipped too.
func (e *Engine) fetch(ctx context.Context, week models.WeekKey, durationMinutes int, practitionerID string, fresh bool) ([]models.Slot, error) {
	loc := e.calc.Location()
	slots, err := e.source.FetchSlots(ctx, slotsource.Query{
		Start:           week.Start(loc),
		End:             week.End(loc),
		DurationMinutes: durationMinutes,
		PractitionerID:  practitionerID,
		Fresh:           fresh,
	})
	if err != nil {
		return nil, err
	}
	slots = e.calc.FilterBookable(slots, e.now())
	if e.cacheable(durationMinutes, practitionerID) {
		e.cache.Put(week, slots)
	}
	return slots, nil
}

// NextAvailable returns the earliest bookable slot held in the cache.
func (e *Engine) NextAvailable() (models.Slot, bool) {
	now := e.now()
	for _, week := range e.cache.Snapshot() {
		if s, ok := models.EarliestSlot(e.calc.FilterBookable(week.Slots, now)); ok {
			return s, true
		}
	}
	return models.Slot{}, false
}
