package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultInterval is the nominal tick period.
const DefaultInterval = 50 * time.Millisecond

// DefaultBuffer is the capacity of the outbound tick channel.
const DefaultBuffer = 16

// Tick is one time-advance message. Delta is the time measured since the
// previous delivered tick of the same session, never a fixed increment.
type Tick struct {
	Session uuid.UUID
	Delta   time.Duration
	At      time.Time
}

// Source produces ticks for one session at a time. Ticks are posted to a
// buffered channel; when the reader falls behind the next delivered tick
// carries the accumulated delta instead of an interval being lost.
type Source struct {
	clock    Clock
	interval time.Duration
	out      chan Tick
	logger   *zap.Logger

	mu      sync.Mutex
	session uuid.UUID
	budget  time.Duration
	last    time.Time
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSource creates an idle Source.
//
// Precondition: clk and logger must be non-nil.
// Postcondition: interval <= 0 is replaced by DefaultInterval.
func NewSource(clk Clock, interval time.Duration, logger *zap.Logger) *Source {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Source{
		clock:    clk,
		interval: interval,
		out:      make(chan Tick, DefaultBuffer),
		logger:   logger,
	}
}

// Ticks returns the channel ticks are delivered on.
func (s *Source) Ticks() <-chan Tick { return s.out }

// Interval returns the nominal tick period.
func (s *Source) Interval() time.Duration { return s.interval }

// Start begins measuring a new session. Any previous session is stopped first.
//
// Postcondition: Ticks tagged with session are delivered until Pause or Stop.
func (s *Source) Start(session uuid.UUID, budget time.Duration) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.budget = budget
	s.launch()
	s.logger.Debug("clock source started",
		zap.String("session", session.String()),
		zap.Duration("budget", budget),
		zap.Duration("interval", s.interval),
	)
}

// Pause stops producing ticks and returns a final tick covering the time since
// the last delivered one, so no measured time is lost. The final tick is not
// sent on the channel; Delta may be zero.
func (s *Source) Pause() Tick {
	wasRunning := s.halt()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if !wasRunning {
		return Tick{Session: s.session, At: now}
	}
	delta := max(now.Sub(s.last), 0)
	s.last = now
	s.budget = max(s.budget-delta, 0)
	return Tick{Session: s.session, Delta: delta, At: now}
}

// Resume continues the current session from the frozen budget. Time spent
// paused is not measured.
func (s *Source) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.session == uuid.Nil {
		return
	}
	s.launch()
}

// Stop cancels the session. No tick for the stopped session is sent after
// Stop returns, and buffered ticks are discarded.
func (s *Source) Stop() {
	s.halt()
	s.mu.Lock()
	s.session = uuid.Nil
	s.budget = 0
	s.mu.Unlock()
	for {
		select {
		case <-s.out:
		default:
			return
		}
	}
}

// Remaining returns the session budget not yet delivered as ticks.
func (s *Source) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// Running reports whether ticks are being produced.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// launch must be called with mu held.
func (s *Source) launch() {
	s.last = s.clock.Now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.run(s.clock.NewTicker(s.interval), s.stop, s.done)
}

func (s *Source) halt() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
	return true
}

func (s *Source) run(ticker *Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.observe(stop)
		}
	}
}

func (s *Source) observe(stop <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-stop:
		return
	default:
	}
	now := s.clock.Now()
	delta := now.Sub(s.last)
	if delta <= 0 {
		return
	}
	tick := Tick{Session: s.session, Delta: delta, At: now}
	select {
	case s.out <- tick:
		s.last = now
		s.budget = max(s.budget-delta, 0)
	default:
		s.logger.Debug("tick reader behind, folding delta into next tick",
			zap.Duration("pending", delta),
		)
	}
}
