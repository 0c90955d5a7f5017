package slotsource

import (
	"context"
	"errors"
	"time"

	"praxis/internal/models"
)

// ErrUnavailable is returned when the remote scheduling API cannot be reached
// or answers with a server error.
var ErrUnavailable = errors.New("slot source unavailable")

// Query selects open slots of one length within [Start, End).
type Query struct {
	Start           time.Time
	End             time.Time
	DurationMinutes int
	// PractitionerID restricts results to one practitioner. Empty means any.
	PractitionerID string
	// Fresh skips shared response caches and always asks the remote API.
	Fresh bool
}

// Source returns open appointment slots. An empty result is a normal answer
// meaning no availability in the range.
type Source interface {
	FetchSlots(ctx context.Context, q Query) ([]models.Slot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Query) ([]models.Slot, error)

func (f SourceFunc) FetchSlots(ctx context.Context, q Query) ([]models.Slot, error) {
	return f(ctx, q)
}
