package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for deterministic tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	when    time.Time
	period  time.Duration
	ch      chan time.Time
	stopped bool
}

// NewFake returns a Fake whose clock reads start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker registers a ticker that fires every d of advanced time.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	w := f.add(d, d)
	return &Ticker{C: w.ch, stop: func() { f.cancel(w) }}
}

// NewTimer registers a timer that fires once d of time has been advanced.
func (f *Fake) NewTimer(d time.Duration) *Timer {
	w := f.add(d, 0)
	return &Timer{C: w.ch, stop: func() bool { return f.cancel(w) }}
}

// Advance moves the clock forward by d and fires every ticker and timer that
// came due. A ticker that came due several times sends once, as time.Ticker
// does for a slow reader.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.fire()
}

// Pending returns the number of tickers and timers not yet stopped or fired.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

func (f *Fake) add(d, period time.Duration) *waiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &waiter{when: f.now.Add(d), period: period, ch: make(chan time.Time, 1)}
	f.waiters = append(f.waiters, w)
	f.fire()
	return w
}

func (f *Fake) cancel(w *waiter) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w.stopped {
		return false
	}
	w.stopped = true
	f.prune()
	return true
}

// fire must be called with mu held.
func (f *Fake) fire() {
	for _, w := range f.waiters {
		if w.stopped || w.when.After(f.now) {
			continue
		}
		select {
		case w.ch <- f.now:
		default:
		}
		if w.period == 0 {
			w.stopped = true
			continue
		}
		for !w.when.After(f.now) {
			w.when = w.when.Add(w.period)
		}
	}
	f.prune()
}

func (f *Fake) prune() {
	live := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.stopped {
			live = append(live, w)
		}
	}
	for i := len(live); i < len(f.waiters); i++ {
		f.waiters[i] = nil
	}
	f.waiters = live
}
