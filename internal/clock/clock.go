// Package clock provides the time abstraction and the periodic tick source
// that drives a training session.
package clock

import "time"

// Clock abstracts the time operations the tick source and session runner use.
// Production code injects Real(); tests inject a Fake.
type Clock interface {
	// Now returns the current time. Real readings carry a monotonic component,
	// so Sub between two readings is immune to wall-clock adjustments.
	Now() time.Time
	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
	// NewTimer returns a Timer that fires once after d.
	NewTimer(d time.Duration) *Timer
}

// Ticker delivers periodic ticks on C. Like time.Ticker, C has capacity 1 and
// ticks are dropped when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Timer delivers a single event on C.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the Timer from firing. It reports whether the timer was
// still pending.
func (t *Timer) Stop() bool { return t.stop() }

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}
