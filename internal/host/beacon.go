package host

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Beacon is the server-side Host. The browser reports its first paint through
// an HTTP beacon, the process counts as loaded once it serves traffic, and it
// is idle while no API request is in flight.
type Beacon struct {
	paintSupported bool
	pollInterval   time.Duration

	paintOnce sync.Once
	paint     chan struct{}
	loadOnce  sync.Once
	loaded    chan struct{}

	inFlight atomic.Int64
}

// NewBeacon creates a Beacon. With paintSupported false, FirstPaint reports
// that paint cannot be observed and callers fall back to Loaded.
func NewBeacon(paintSupported bool) *Beacon {
	return &Beacon{
		paintSupported: paintSupported,
		pollInterval:   25 * time.Millisecond,
		paint:          make(chan struct{}),
		loaded:         make(chan struct{}),
	}
}

// MarkPainted records the first paint. Later calls are no-ops.
func (b *Beacon) MarkPainted() {
	b.paintOnce.Do(func() { close(b.paint) })
}

// MarkLoaded records that the page is fully loaded. Later calls are no-ops.
func (b *Beacon) MarkLoaded() {
	b.loadOnce.Do(func() { close(b.loaded) })
}

func (b *Beacon) FirstPaint() (<-chan struct{}, bool) {
	if !b.paintSupported {
		return nil, false
	}
	return b.paint, true
}

func (b *Beacon) Loaded() <-chan struct{} {
	return b.loaded
}

// WhenIdle polls the in-flight request count until it drops to zero.
func (b *Beacon) WhenIdle(timeout time.Duration) (<-chan struct{}, bool) {
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()

		for b.inFlight.Load() > 0 {
			select {
			case <-deadline.C:
				return
			case <-ticker.C:
			}
		}
	}()
	return idle, true
}

func (b *Beacon) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// InFlight returns the number of requests currently being served.
func (b *Beacon) InFlight() int64 {
	return b.inFlight.Load()
}

// Middleware counts in-flight requests for idle detection.
func (b *Beacon) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.inFlight.Add(1)
		defer b.inFlight.Add(-1)
		next.ServeHTTP(w, r)
	})
}
