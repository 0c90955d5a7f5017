package search

import (
	"context"
	"time"
)

// StartAutoRefresh re-fetches the displayed week every interval until the
// view is closed or ctx ends. A non-positive interval uses the engine default.
// Calling it again replaces the previous refresh loop.
func (v *View) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = v.engine.config.RefreshInterval
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if v.stop != nil {
		close(v.stop)
	}
	stop := make(chan struct{})
	v.stop = stop
	v.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				v.Refresh(ctx)
			}
		}
	}()
}

// Refresh re-fetches the displayed week straight from the slot source,
// ignoring the cache TTL and any shared response cache. On failure the
// previous slots stay on screen. It reports whether new slots were applied.
func (v *View) Refresh(ctx context.Context) bool {
	v.op.Lock()
	defer v.op.Unlock()

	v.mu.Lock()
	if v.closed || v.state.Displayed == "" || v.last.AdvancedTo != v.state.Displayed {
		v.mu.Unlock()
		return false
	}
	week := v.state.Displayed
	duration, practitioner := v.state.DurationMinutes, v.state.PractitionerID
	exhausted := v.last.Exhausted
	v.mu.Unlock()

	e := v.engine
	slots, err := e.fetch(ctx, week, duration, practitioner, true)
	if err != nil {
		e.logger.Warn().Err(err).Str("view", v.id).Str("week", week.String()).Msg("availability refresh failed")
		return false
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.state.Displayed != week {
		return false
	}
	weeks := v.last.WeeksSearched
	v.renderLocked(week, slots, weeks, false)
	v.last.Exhausted = exhausted && len(slots) == 0
	v.last.WeeksSearched = weeks
	return true
}
