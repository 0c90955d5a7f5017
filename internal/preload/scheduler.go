package preload

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"praxis/internal/bookable"
	"praxis/internal/events"
	"praxis/internal/host"
	"praxis/internal/metrics"
	"praxis/internal/models"
	"praxis/internal/slotsource"
	"praxis/internal/weekcache"
)

// State is a preload phase.
type State int

const (
	StateIdle State = iota
	StateWaitingForPaint
	StatePhaseOne
	StatePhaseTwo
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaitingForPaint:
		return "waiting_for_paint"
	case StatePhaseOne:
		return "phase_one"
	case StatePhaseTwo:
		return "phase_two"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config holds preload pacing and horizon settings.
type Config struct {
	// DurationMinutes is the session length slots are fetched for.
	DurationMinutes int
	// PhaseOneWeeks are fetched right after first paint, starting with the current week.
	PhaseOneWeeks int
	// HorizonWeeks is the total number of weeks covered by both phases.
	HorizonWeeks int
	// PhaseOneDelay separates requests in phase one.
	PhaseOneDelay time.Duration
	// PhaseTwoDelay separates requests in phase two.
	PhaseTwoDelay time.Duration
	// PaintTimeout bounds the wait for the first paint signal.
	PaintTimeout time.Duration
	// IdleTimeout bounds the wait for idle time before phase two.
	IdleTimeout time.Duration
	// IdleFallback delays phase two when idleness cannot be observed.
	IdleFallback time.Duration
}

// DefaultConfig returns the standard preload plan: 4 weeks quickly, 26 weeks in total.
func DefaultConfig() Config {
	return Config{
		DurationMinutes: 50,
		PhaseOneWeeks:   4,
		HorizonWeeks:    26,
		PhaseOneDelay:   200 * time.Millisecond,
		PhaseTwoDelay:   500 * time.Millisecond,
		PaintTimeout:    6 * time.Second,
		IdleTimeout:     2 * time.Second,
		IdleFallback:    time.Second,
	}
}

// Scheduler fills the week cache for the upcoming horizon in the background
// without competing with the first render.
type Scheduler struct {
	config Config
	source slotsource.Source
	cache  *weekcache.Cache
	calc   *bookable.Calculator
	host   host.Host
	bus    *events.EventBus
	logger *zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State
	run   *Run
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now for week selection and bookable filtering.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler in the idle state.
func NewScheduler(
	config Config,
	source slotsource.Source,
	cache *weekcache.Cache,
	calc *bookable.Calculator,
	h host.Host,
	bus *events.EventBus,
	logger *zerolog.Logger,
	opts ...Option,
) *Scheduler {
	if config.PhaseOneWeeks < 0 {
		config.PhaseOneWeeks = 0
	}
	if config.HorizonWeeks < config.PhaseOneWeeks {
		config.HorizonWeeks = config.PhaseOneWeeks
	}
	if config.DurationMinutes <= 0 {
		config.DurationMinutes = DefaultConfig().DurationMinutes
	}
	s := &Scheduler{
		config: config,
		source: source,
		cache:  cache,
		calc:   calc,
		host:   h,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunStats summarizes a completed preload run.
type RunStats struct {
	Gate    string // paint, timeout or load
	Fetched int
	Skipped int
	Failed  int
}

// Run is one in-flight or finished preload sequence.
type Run struct {
	done  chan struct{}
	stats RunStats
}

// Done is closed when the run reaches StateDone or its context ends.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the run summary. It is only meaningful after Done is closed.
func (r *Run) Stats() RunStats {
	<-r.done
	return r.stats
}

// Start begins a preload run, or returns the run already in flight.
// ctx bounds the whole run and should outlive any single request.
func (s *Scheduler) Start(ctx context.Context) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		select {
		case <-s.run.done:
		default:
			return s.run
		}
	}

	run := &Run{done: make(chan struct{})}
	s.run = run
	s.setStateLocked(StateWaitingForPaint)
	go s.execute(ctx, run)
	return run
}

// State returns the current phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.setStateLocked(state)
	s.mu.Unlock()
}

func (s *Scheduler) setStateLocked(state State) {
	s.state = state
	metrics.SetPreloadPhase(int(state))
}

func (s *Scheduler) execute(ctx context.Context, run *Run) {
	defer close(run.done)
	defer s.setState(StateDone)

	gate, err := s.waitForPaint(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("preload cancelled before first paint")
		return
	}
	run.stats.Gate = gate

	current := models.WeekOf(s.now(), s.calc.Location())
	s.logger.Info().
		Str("gate", gate).
		Str("from_week", current.String()).
		Int("horizon_weeks", s.config.HorizonWeeks).
		Msg("availability preload started")

	s.setState(StatePhaseOne)
	phaseOne := weekRange(current, 0, s.config.PhaseOneWeeks)
	if err := s.fetchWeeks(ctx, phaseOne, s.config.PhaseOneDelay, &run.stats); err != nil {
		return
	}
	s.publishPreloaded(phaseOne)

	if err := s.deferToIdle(ctx); err != nil {
		return
	}

	s.setState(StatePhaseTwo)
	phaseTwo := weekRange(current, s.config.PhaseOneWeeks, s.config.HorizonWeeks)
	if err := s.fetchWeeks(ctx, phaseTwo, s.config.PhaseTwoDelay, &run.stats); err != nil {
		return
	}

	s.logger.Info().
		Int("fetched", run.stats.Fetched).
		Int("skipped", run.stats.Skipped).
		Int("failed", run.stats.Failed).
		Msg("availability preload finished")
}

// waitForPaint blocks until first paint, the paint timeout, or page load when
// paint cannot be observed.
func (s *Scheduler) waitForPaint(ctx context.Context) (string, error) {
	paint, ok := s.host.FirstPaint()
	if !ok {
		select {
		case <-s.host.Loaded():
			return "load", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	select {
	case <-paint:
		return "paint", nil
	case <-s.host.After(s.config.PaintTimeout):
		return "timeout", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// deferToIdle waits for idle time so phase two never competes with
// foreground work.
func (s *Scheduler) deferToIdle(ctx context.Context) error {
	if idle, ok := s.host.WhenIdle(s.config.IdleTimeout); ok {
		select {
		case <-idle:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.pause(ctx, s.config.IdleFallback)
}

// fetchWeeks loads weeks in order, one at a time. Individual failures are
// logged and skipped; only cancellation stops the sequence.
func (s *Scheduler) fetchWeeks(ctx context.Context, weeks []models.WeekKey, delay time.Duration, stats *RunStats) error {
	called := false
	for _, week := range weeks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.cache.Valid(week) {
			stats.Skipped++
			continue
		}
		if called {
			if err := s.pause(ctx, delay); err != nil {
				return err
			}
		}
		called = true

		slots, err := s.fetchWeek(ctx, week)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed++
			s.logger.Warn().Err(err).Str("week", week.String()).Msg("background slot fetch failed")
			continue
		}
		stats.Fetched++
		s.bus.Publish(events.Event{
			Type:    events.TypeAvailabilityUpdated,
			Payload: events.WeekUpdated{Week: week, SlotCount: len(slots)},
		})
	}
	return nil
}

func (s *Scheduler) fetchWeek(ctx context.Context, week models.WeekKey) ([]models.Slot, error) {
	loc := s.calc.Location()
	slots, err := s.source.FetchSlots(ctx, slotsource.Query{
		Start:           week.Start(loc),
		End:             week.End(loc),
		DurationMinutes: s.config.DurationMinutes,
	})
	if err != nil {
		return nil, err
	}
	slots = s.calc.FilterBookable(slots, s.now())
	s.cache.Put(week, slots)
	return slots, nil
}

func (s *Scheduler) publishPreloaded(weeks []models.WeekKey) {
	var found []models.Slot
	for _, week := range weeks {
		if slots, ok := s.cache.Get(week); ok && len(slots) > 0 {
			found = slots
			break
		}
	}
	payload := events.Preloaded{Weeks: weeks}
	if next, ok := models.EarliestSlot(found); ok {
		payload.NextAvailable = &next
	}
	s.bus.Publish(events.Event{Type: events.TypeAvailabilityPreloaded, Payload: payload})
}

func (s *Scheduler) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-s.host.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func weekRange(from models.WeekKey, begin, end int) []models.WeekKey {
	if end <= begin {
		return nil
	}
	weeks := make([]models.WeekKey, 0, end-begin)
	for i := begin; i < end; i++ {
		weeks = append(weeks, from.AddWeeks(i))
	}
	return weeks
}
