package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"praxis/internal/metrics"
	"praxis/internal/models"
)

// SearchState is owned by exactly one calendar view.
type SearchState struct {
	// Displayed is the week currently shown.
	Displayed models.WeekKey
	// DurationMinutes and PractitionerID are the query of the last resolve.
	DurationMinutes int
	PractitionerID  string
	// EmptyWeeks holds weeks confirmed empty during the current forward search.
	EmptyWeeks map[models.WeekKey]struct{}
	// AutoSearch is on until a search finds a slot or hits the cap.
	AutoSearch bool
	// Searching is true while a resolve is walking forward.
	Searching bool
	// SelectedDay is the highlighted YYYY-MM-DD; DayOverridden marks a manual choice.
	SelectedDay   string
	DayOverridden bool
}

// Result is what a calendar view renders.
type Result struct {
	AdvancedTo    models.WeekKey    `json:"advanced_to"`
	Slots         []models.Slot     `json:"slots"`
	Days          []models.DayGroup `json:"days"`
	Searching     bool              `json:"searching"`
	AutoSearch    bool              `json:"auto_search"`
	Exhausted     bool              `json:"exhausted"`
	WeeksSearched int               `json:"weeks_searched"`
	SelectedDay   string            `json:"selected_day,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// View is one open calendar. Its operations are serialized.
type View struct {
	id     string
	engine *Engine

	op sync.Mutex // serializes resolve, navigation and refresh

	mu     sync.Mutex // guards the fields below
	state  SearchState
	last   Result
	closed bool
	stop   chan struct{}
}

// ID identifies the view.
func (v *View) ID() string {
	return v.id
}

// State returns a copy of the search state.
func (v *View) State() SearchState {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := v.state
	st.EmptyWeeks = make(map[models.WeekKey]struct{}, len(v.state.EmptyWeeks))
	for k := range v.state.EmptyWeeks {
		st.EmptyWeeks[k] = struct{}{}
	}
	return st
}

// Current returns the last rendered result, flagged as searching while a
// forward search is still running.
func (v *View) Current() Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	r := v.last
	r.Searching = v.state.Searching
	r.AutoSearch = v.state.AutoSearch
	r.SelectedDay = v.state.SelectedDay
	if v.state.Searching {
		r.AdvancedTo = v.state.Displayed
	}
	return r
}

// Resolve shows week with slots of the given length, optionally for one
// practitioner. While the view is in auto-search mode, empty weeks are
// skipped forward until a week has a slot or the cap is reached.
func (v *View) Resolve(ctx context.Context, week models.WeekKey, durationMinutes int, practitionerID string) (Result, error) {
	v.op.Lock()
	defer v.op.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return Result{}, ErrViewClosed
	}
	if durationMinutes <= 0 {
		durationMinutes = v.engine.config.CachedDurationMinutes
	}
	if v.state.DurationMinutes != 0 &&
		(v.state.DurationMinutes != durationMinutes || v.state.PractitionerID != practitionerID) {
		v.rearmLocked()
	}
	v.state.DurationMinutes = durationMinutes
	v.state.PractitionerID = practitionerID
	v.mu.Unlock()

	return v.resolve(ctx, week)
}

// Navigate is a manual move to week. It clears the empty-week memory and
// turns auto-search off, so an empty week stays on screen.
func (v *View) Navigate(ctx context.Context, week models.WeekKey) (Result, error) {
	v.op.Lock()
	defer v.op.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return Result{}, ErrViewClosed
	}
	v.state.EmptyWeeks = make(map[models.WeekKey]struct{})
	v.state.AutoSearch = false
	v.mu.Unlock()

	return v.resolve(ctx, week)
}

// SearchForward starts a fresh auto-search from the displayed week.
func (v *View) SearchForward(ctx context.Context) (Result, error) {
	v.op.Lock()
	defer v.op.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return Result{}, ErrViewClosed
	}
	v.rearmLocked()
	week := v.state.Displayed
	v.mu.Unlock()

	if week == "" {
		week = v.engine.CurrentWeek()
	}
	return v.resolve(ctx, week)
}

// SelectDay records a manual day choice. It survives refreshes and re-renders
// until the displayed week changes.
func (v *View) SelectDay(date string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrViewClosed
	}
	if !v.state.Displayed.Contains(date) {
		return fmt.Errorf("%w: %s", ErrDayOutsideWeek, date)
	}
	v.state.SelectedDay = date
	v.state.DayOverridden = true
	return nil
}

// Close stops auto-refresh and discards the search state. Closing twice is a no-op.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true
	if v.stop != nil {
		close(v.stop)
		v.stop = nil
	}
	v.state = SearchState{}
	v.last = Result{}
	metrics.DecOpenViews()
}

func (v *View) rearmLocked() {
	v.state.EmptyWeeks = make(map[models.WeekKey]struct{})
	v.state.AutoSearch = true
}

// resolve runs the search loop. The caller holds v.op.
func (v *View) resolve(ctx context.Context, week models.WeekKey) (Result, error) {
	e := v.engine

	v.mu.Lock()
	if v.state.DurationMinutes <= 0 {
		v.state.DurationMinutes = e.config.CachedDurationMinutes
	}
	duration, practitioner := v.state.DurationMinutes, v.state.PractitionerID
	v.state.Searching = v.state.AutoSearch
	shown := displayed{week: v.state.Displayed, day: v.state.SelectedDay, overridden: v.state.DayOverridden}
	v.mu.Unlock()

	current := week
	examined := 0
	for {
		v.setDisplayed(current)

		slots, err := e.lookup(ctx, current, duration, practitioner)
		if err != nil {
			v.abort(shown)
			e.logger.Error().Err(err).Str("week", current.String()).Msg("availability lookup failed")
			return Result{}, fmt.Errorf("resolve week %s: %w", current, err)
		}
		examined++

		v.mu.Lock()
		if len(slots) > 0 || !v.state.AutoSearch {
			if v.state.AutoSearch {
				metrics.ObserveSearch("found", examined)
			}
			v.state.AutoSearch = false
			v.state.Searching = false
			res := v.renderLocked(current, slots, examined, false)
			v.mu.Unlock()
			return res, nil
		}

		v.state.EmptyWeeks[current] = struct{}{}
		if len(v.state.EmptyWeeks) >= e.config.CapWeeks {
			v.state.AutoSearch = false
			v.state.Searching = false
			res := v.renderLocked(current, slots, examined, true)
			v.mu.Unlock()
			metrics.ObserveSearch("exhausted", examined)
			e.logger.Info().
				Str("from_week", week.String()).
				Int("weeks_searched", res.WeeksSearched).
				Msg("no availability within search cap")
			return res, nil
		}
		v.mu.Unlock()

		if err := ctx.Err(); err != nil {
			v.abort(shown)
			return Result{}, err
		}
		current = current.Next()
	}
}

// displayed is what was on screen before a resolve started.
type displayed struct {
	week       models.WeekKey
	day        string
	overridden bool
}

// abort ends a failed resolve and puts the view back on the week still on screen.
func (v *View) abort(prev displayed) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state.Searching = false
	v.state.Displayed = prev.week
	v.state.SelectedDay = prev.day
	v.state.DayOverridden = prev.overridden
}

// setDisplayed moves the view to week; a week change clears the manual day choice.
func (v *View) setDisplayed(week models.WeekKey) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state.Displayed != week {
		v.state.Displayed = week
		v.state.DayOverridden = false
		v.state.SelectedDay = ""
	}
}

// renderLocked builds and stores the result for the displayed week. v.mu is held.
func (v *View) renderLocked(week models.WeekKey, slots []models.Slot, examined int, exhausted bool) Result {
	days := models.GroupByLocalDate(slots, v.engine.Location())
	if !v.state.DayOverridden {
		v.state.SelectedDay = ""
		if len(days) > 0 {
			v.state.SelectedDay = days[0].Date
		}
	}

	weeksSearched := examined
	if exhausted {
		weeksSearched = len(v.state.EmptyWeeks)
	}
	v.last = Result{
		AdvancedTo:    week,
		Slots:         slots,
		Days:          days,
		Searching:     false,
		AutoSearch:    v.state.AutoSearch,
		Exhausted:     exhausted,
		WeeksSearched: weeksSearched,
		SelectedDay:   v.state.SelectedDay,
		UpdatedAt:     v.engine.now(),
	}
	return v.last
}
