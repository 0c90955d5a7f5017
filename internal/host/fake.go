package host

import (
	"sync"
	"time"
)

// Fake is a manually driven Host for tests. Timers registered through After
// only fire when Advance moves the fake clock past their deadline, unless
// AutoFire is set, in which case they fire immediately.
type Fake struct {
	PaintSupported bool
	IdleSupported  bool
	AutoFire       bool

	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Duration
	timers  []fakeTimer
	waits   []time.Duration
	paint   chan struct{}
	loaded  chan struct{}
	idle    chan struct{}
	painted bool
	load    bool
	idled   bool
}

type fakeTimer struct {
	at time.Duration
	ch chan time.Time
}

// NewFake returns a Fake that supports paint and idle observation.
func NewFake() *Fake {
	f := &Fake{
		PaintSupported: true,
		IdleSupported:  true,
		paint:          make(chan struct{}),
		loaded:         make(chan struct{}),
		idle:           make(chan struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) FirstPaint() (<-chan struct{}, bool) {
	if !f.PaintSupported {
		return nil, false
	}
	return f.paint, true
}

func (f *Fake) Loaded() <-chan struct{} {
	return f.loaded
}

func (f *Fake) WhenIdle(time.Duration) (<-chan struct{}, bool) {
	if !f.IdleSupported {
		return nil, false
	}
	return f.idle, true
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.waits = append(f.waits, d)
	ch := make(chan time.Time, 1)
	if f.AutoFire || d <= 0 {
		ch <- time.Time{}.Add(f.now + d)
		return ch
	}
	f.timers = append(f.timers, fakeTimer{at: f.now + d, ch: ch})
	f.cond.Broadcast()
	return ch
}

// Paint fires the first-paint signal.
func (f *Fake) Paint() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.painted {
		f.painted = true
		close(f.paint)
	}
}

// Load fires the page-load signal.
func (f *Fake) Load() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.load {
		f.load = true
		close(f.loaded)
	}
}

// Idle fires the idle signal.
func (f *Fake) Idle() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.idled {
		f.idled = true
		close(f.idle)
	}
}

// Advance moves the fake clock forward and fires every timer that is due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now += d
	pending := f.timers[:0]
	for _, t := range f.timers {
		if t.at <= f.now {
			t.ch <- time.Time{}.Add(t.at)
			continue
		}
		pending = append(pending, t)
	}
	f.timers = pending
}

// BlockUntil waits until at least n timers are pending.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.timers) < n {
		f.cond.Wait()
	}
}

// Waits returns every duration passed to After so far.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.waits...)
}
