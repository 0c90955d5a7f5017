// Package host abstracts the page-lifecycle signals the preloader waits on:
// first meaningful paint, page load, and idle time.
package host

import "time"

// Host exposes lifecycle signals and timers.
type Host interface {
	// FirstPaint returns a channel closed once the first meaningful paint has
	// been observed. ok is false when paint cannot be observed at all.
	FirstPaint() (paint <-chan struct{}, ok bool)
	// Loaded returns a channel closed once the page has fully loaded.
	Loaded() <-chan struct{}
	// WhenIdle returns a channel closed when the host is idle, or after
	// timeout at the latest. ok is false when idleness cannot be observed.
	WhenIdle(timeout time.Duration) (idle <-chan struct{}, ok bool)
	// After behaves like time.After.
	After(d time.Duration) <-chan time.Time
}
