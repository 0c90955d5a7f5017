package slotsource

import (
	"context"
	"time"

	"praxis/internal/metrics"
	"praxis/internal/models"
)

// Instrument wraps src so every call is counted and timed under caller.
func Instrument(src Source, caller string) Source {
	return SourceFunc(func(ctx context.Context, q Query) ([]models.Slot, error) {
		start := time.Now()
		slots, err := src.FetchSlots(ctx, q)

		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case len(slots) == 0:
			outcome = "empty"
		}
		metrics.ObserveSlotFetch(caller, outcome, time.Since(start).Seconds())
		return slots, err
	})
}
