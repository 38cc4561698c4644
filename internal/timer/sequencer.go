package timer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/observability"
)

// ErrInvalidSnapshot is returned by Restore when a snapshot cannot describe a
// reachable paused session.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is a read-only view of the Sequencer at one instant.
type Snapshot struct {
	Session          uuid.UUID     `json:"session" yaml:"session"`
	Lifecycle        Lifecycle     `json:"lifecycle" yaml:"lifecycle"`
	Phase            Phase         `json:"phase" yaml:"phase"`
	Round            int           `json:"round" yaml:"round"`
	TotalRounds      int           `json:"total_rounds" yaml:"total_rounds"`
	RemainingInPhase time.Duration `json:"remaining_in_phase" yaml:"remaining_in_phase"`
	IsWarning        bool          `json:"is_warning" yaml:"is_warning"`
	ElapsedTotal     time.Duration `json:"elapsed_total" yaml:"elapsed_total"`
	TotalRemaining   time.Duration `json:"total_remaining" yaml:"total_remaining"`
	Settings         Settings      `json:"settings" yaml:"settings"`
}

// Sequencer owns the state machine of one training session at a time.
//
// A Sequencer is not safe for concurrent use. Every call, including Tick,
// must come from a single goroutine; trainer.Runner provides that goroutine.
// Handlers invoked during Publish run on that same goroutine and must not
// call back into the Sequencer.
type Sequencer struct {
	bus     *Bus
	logger  *zap.Logger
	metrics *observability.Metrics

	settings  Settings
	lifecycle Lifecycle
	phase     Phase
	round     int
	remaining time.Duration
	warning   bool
	elapsed   time.Duration
	session   uuid.UUID

	// lastCountdown is the whole second most recently announced in this phase.
	lastCountdown int
}

// NewSequencer returns a Stopped Sequencer configured with DefaultSettings.
//
// Precondition: bus and logger must be non-nil; metrics may be nil.
func NewSequencer(bus *Bus, logger *zap.Logger, metrics *observability.Metrics) *Sequencer {
	s := &Sequencer{
		bus:       bus,
		logger:    logger,
		metrics:   metrics,
		settings:  DefaultSettings(),
		lifecycle: LifecycleStopped,
	}
	s.resetCounters()
	return s
}

// Configure replaces the session settings.
//
// Precondition: Lifecycle must be Stopped.
// Postcondition: On success the round counter is 0 and phase is Prepare.
// On failure (ErrInvalidState or ErrInvalidSettings) nothing changes.
func (s *Sequencer) Configure(settings Settings) error {
	if s.lifecycle != LifecycleStopped {
		return fmt.Errorf("%w: configure while %s", ErrInvalidState, s.lifecycle)
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	s.settings = settings
	s.resetCounters()
	s.logger.Debug("sequencer configured",
		zap.Int("prepare_time", settings.PrepareTime),
		zap.Int("round_time", settings.RoundTime),
		zap.Int("warning_time", settings.WarningTime),
		zap.Int("rest_time", settings.RestTime),
		zap.Int("round_count", settings.RoundCount),
	)
	return nil
}

// Start begins a new session from Stopped, or resumes from Paused.
// Calling Start while Running is a logged no-op.
//
// Postcondition: From Stopped, emits StateChanged then PhaseChanged; the first
// phase is Prepare when PrepareTime > 0, otherwise Round 1.
// Returns ErrInvalidState when the session is Completed.
func (s *Sequencer) Start() error {
	switch s.lifecycle {
	case LifecyclePaused:
		s.Resume()
		return nil
	case LifecycleRunning:
		s.logger.Debug("start ignored, already running")
		return nil
	case LifecycleCompleted:
		return fmt.Errorf("%w: start while completed, stop first", ErrInvalidState)
	}

	s.resetCounters()
	s.session = uuid.New()
	first := PhaseRound
	if s.settings.PrepareTime > 0 {
		first = PhasePrepare
	}
	s.phase = first
	s.setLifecycle(LifecycleRunning)
	s.metrics.SessionStarted()
	s.logger.Info("training started",
		zap.String("session", s.session.String()),
		zap.Int("round_count", s.settings.RoundCount),
		zap.Duration("total", s.settings.Total()),
	)
	s.enterPhase(first)
	return nil
}

// Pause freezes the session.
//
// Postcondition: Returns true and emits StateChanged if the lifecycle moved
// Running -> Paused; otherwise logs and returns false.
func (s *Sequencer) Pause() bool {
	if s.lifecycle != LifecycleRunning {
		s.logger.Debug("pause ignored", zap.String("lifecycle", string(s.lifecycle)))
		return false
	}
	s.setLifecycle(LifecyclePaused)
	return true
}

// Resume continues a paused session from the frozen remaining time.
//
// Postcondition: Returns true and emits StateChanged if the lifecycle moved
// Paused -> Running; otherwise logs and returns false.
func (s *Sequencer) Resume() bool {
	if s.lifecycle != LifecyclePaused {
		s.logger.Debug("resume ignored", zap.String("lifecycle", string(s.lifecycle)))
		return false
	}
	s.setLifecycle(LifecycleRunning)
	return true
}

// Stop returns to Stopped from any state and resets all counters. Ticks
// tagged with the previous session are ignored afterwards.
//
// Postcondition: Emits StateChanged only if the lifecycle was not already Stopped.
func (s *Sequencer) Stop() {
	if s.lifecycle != LifecycleStopped {
		s.logger.Info("training stopped",
			zap.String("session", s.session.String()),
			zap.String("phase", string(s.phase)),
			zap.Int("round", s.round),
		)
	}
	ev := s.stateChange(LifecycleStopped)
	s.resetCounters()
	s.session = uuid.Nil
	if s.lifecycle == LifecycleStopped {
		return
	}
	s.lifecycle = LifecycleStopped
	ev.Phase = s.phase
	s.bus.Publish(ev)
}

// Tick advances the session by delta. Ticks are ignored unless the session is
// Running, session matches the current session and delta is positive.
//
// Time left over after a phase reaches zero carries into the following phase.
//
// Postcondition: RemainingInPhase never goes negative; phase completion is
// handled before Tick returns.
func (s *Sequencer) Tick(session uuid.UUID, delta time.Duration) {
	if s.lifecycle != LifecycleRunning {
		return
	}
	if session != s.session {
		s.logger.Debug("stale tick ignored",
			zap.String("tick_session", session.String()),
			zap.String("session", s.session.String()),
		)
		return
	}
	for s.lifecycle == LifecycleRunning {
		if s.remaining <= 0 {
			s.completePhase()
			continue
		}
		if delta <= 0 {
			return
		}
		step := min(delta, s.remaining)
		s.remaining -= step
		s.elapsed += step
		delta -= step

		s.updateWarning()
		s.announceCountdown()
		s.bus.Publish(Ticked{
			RemainingInPhase: s.remaining,
			Phase:            s.phase,
			Round:            s.round,
			IsWarning:        s.warning,
			TotalRemaining:   s.TotalRemaining(),
		})
	}
}

// Restore rebuilds a paused session from a snapshot taken earlier.
//
// Precondition: Lifecycle must be Stopped.
// Postcondition: On success the lifecycle is Paused under a fresh session id
// and StateChanged then PhaseChanged are emitted. Returns ErrInvalidState or
// an error wrapping ErrInvalidSnapshot/ErrInvalidSettings otherwise.
func (s *Sequencer) Restore(snap Snapshot) error {
	if s.lifecycle != LifecycleStopped {
		return fmt.Errorf("%w: restore while %s", ErrInvalidState, s.lifecycle)
	}
	if err := snap.Settings.Validate(); err != nil {
		return err
	}
	if err := validateRestorable(snap); err != nil {
		return err
	}

	s.settings = snap.Settings
	s.resetCounters()
	s.phase = snap.Phase
	s.round = snap.Round
	s.remaining = snap.RemainingInPhase
	s.elapsed = snap.ElapsedTotal
	s.session = uuid.New()
	s.setLifecycle(LifecyclePaused)
	s.bus.Publish(PhaseChanged{
		Phase:       s.phase,
		Round:       s.round,
		TotalRounds: s.settings.RoundCount,
		Duration:    s.settings.PhaseDuration(s.phase),
	})
	s.updateWarning()
	s.logger.Info("training restored",
		zap.String("session", s.session.String()),
		zap.String("phase", string(s.phase)),
		zap.Int("round", s.round),
		zap.Duration("remaining", s.remaining),
	)
	return nil
}

func validateRestorable(snap Snapshot) error {
	n := snap.Settings.RoundCount
	limit := snap.Settings.PhaseDuration(snap.Phase)
	switch snap.Phase {
	case PhasePrepare:
		if snap.Round != 0 {
			return fmt.Errorf("%w: prepare phase with round %d", ErrInvalidSnapshot, snap.Round)
		}
	case PhaseRound:
		if snap.Round < 1 || snap.Round > n {
			return fmt.Errorf("%w: round %d outside 1..%d", ErrInvalidSnapshot, snap.Round, n)
		}
	case PhaseRest:
		if snap.Round < 1 || snap.Round >= n {
			return fmt.Errorf("%w: rest after round %d outside 1..%d", ErrInvalidSnapshot, snap.Round, n-1)
		}
	default:
		return fmt.Errorf("%w: phase %q cannot be resumed", ErrInvalidSnapshot, snap.Phase)
	}
	if snap.RemainingInPhase <= 0 || snap.RemainingInPhase > limit {
		return fmt.Errorf("%w: remaining %s outside (0, %s]", ErrInvalidSnapshot, snap.RemainingInPhase, limit)
	}
	if snap.ElapsedTotal < 0 {
		return fmt.Errorf("%w: negative elapsed %s", ErrInvalidSnapshot, snap.ElapsedTotal)
	}
	return nil
}

// Snapshot returns the current state including derived quantities.
func (s *Sequencer) Snapshot() Snapshot {
	return Snapshot{
		Session:          s.session,
		Lifecycle:        s.lifecycle,
		Phase:            s.phase,
		Round:            s.round,
		TotalRounds:      s.settings.RoundCount,
		RemainingInPhase: s.remaining,
		IsWarning:        s.warning,
		ElapsedTotal:     s.elapsed,
		TotalRemaining:   s.TotalRemaining(),
		Settings:         s.settings,
	}
}

// Lifecycle returns the current lifecycle.
func (s *Sequencer) Lifecycle() Lifecycle { return s.lifecycle }

// Session returns the current session id; uuid.Nil while Stopped.
func (s *Sequencer) Session() uuid.UUID { return s.session }

// Settings returns the configured settings.
func (s *Sequencer) Settings() Settings { return s.settings }

// TotalRemaining is the current phase's remaining time plus the full length
// of every phase not yet started, excluding any rest after the final round.
// While Stopped it is the full session length; once Completed it is zero.
func (s *Sequencer) TotalRemaining() time.Duration {
	switch s.lifecycle {
	case LifecycleStopped:
		return s.settings.Total()
	case LifecycleCompleted:
		return 0
	}
	return TotalRemaining(s.settings, s.phase, s.round, s.remaining)
}

// TotalRemaining computes the time left in a session positioned at phase p of
// round, with remaining left in that phase.
//
// Precondition: settings satisfy Validate; round is consistent with p.
// Postcondition: Result is >= 0.
func TotalRemaining(settings Settings, p Phase, round int, remaining time.Duration) time.Duration {
	n := time.Duration(settings.RoundCount)
	r := time.Duration(round)
	var total time.Duration
	switch p {
	case PhasePrepare:
		total = remaining + n*settings.Round() + (n-1)*settings.Rest()
	case PhaseRound:
		total = remaining + (n-r)*(settings.Round()+settings.Rest())
	case PhaseRest:
		total = remaining + (n-r)*settings.Round() + (n-r-1)*settings.Rest()
	}
	return max(total, 0)
}

func (s *Sequencer) enterPhase(p Phase) {
	s.phase = p
	s.lastCountdown = 0
	if p == PhaseRound {
		s.round++
	}
	s.remaining = s.settings.PhaseDuration(p)
	s.bus.Publish(PhaseChanged{
		Phase:       p,
		Round:       s.round,
		TotalRounds: s.settings.RoundCount,
		Duration:    s.remaining,
	})
	s.updateWarning()
	s.logger.Debug("phase entered",
		zap.String("phase", string(p)),
		zap.Int("round", s.round),
		zap.Duration("duration", s.remaining),
	)
}

func (s *Sequencer) completePhase() {
	switch s.phase {
	case PhasePrepare, PhaseRest:
		s.enterPhase(PhaseRound)
	case PhaseRound:
		s.bus.Publish(RoundCompleted{Round: s.round, TotalRounds: s.settings.RoundCount})
		s.metrics.RoundCompleted()
		if s.round >= s.settings.RoundCount {
			s.completeTraining()
			return
		}
		s.enterPhase(PhaseRest)
	default:
		// Finished has no successor; leave the lifecycle loop.
		s.setLifecycle(LifecycleCompleted)
	}
}

func (s *Sequencer) completeTraining() {
	s.phase = PhaseFinished
	s.remaining = 0
	s.updateWarning()
	s.setLifecycle(LifecycleCompleted)
	s.metrics.SessionCompleted()
	s.logger.Info("training complete",
		zap.String("session", s.session.String()),
		zap.Int("rounds", s.settings.RoundCount),
		zap.Duration("elapsed", s.elapsed),
	)
	s.bus.Publish(TrainingCompleted{
		TotalRounds:  s.settings.RoundCount,
		TotalElapsed: s.elapsed,
		Settings:     s.settings,
	})
}

// updateWarning recomputes the warning flag and emits WarningChanged on edges.
func (s *Sequencer) updateWarning() {
	want := s.phase == PhaseRound &&
		s.settings.WarningTime > 0 &&
		s.remaining <= s.settings.Warning()
	if want == s.warning {
		return
	}
	s.warning = want
	s.bus.Publish(WarningChanged{
		IsWarning:        want,
		RemainingInPhase: s.remaining,
		Round:            s.round,
	})
}

func (s *Sequencer) announceCountdown() {
	if s.remaining <= 0 || s.remaining > CountdownFrom*time.Second {
		return
	}
	sec := CeilSeconds(s.remaining)
	if sec == s.lastCountdown {
		return
	}
	s.lastCountdown = sec
	s.bus.Publish(CountdownTicked{SecondsRemaining: sec, Phase: s.phase})
}

func (s *Sequencer) setLifecycle(next Lifecycle) {
	if s.lifecycle == next {
		return
	}
	ev := s.stateChange(next)
	s.lifecycle = next
	s.bus.Publish(ev)
}

func (s *Sequencer) stateChange(next Lifecycle) StateChanged {
	return StateChanged{
		Old:      s.lifecycle,
		New:      next,
		Phase:    s.phase,
		Round:    s.round,
		Elapsed:  s.elapsed,
		Settings: s.settings,
	}
}

func (s *Sequencer) resetCounters() {
	s.phase = PhasePrepare
	s.round = 0
	s.remaining = 0
	s.warning = false
	s.elapsed = 0
	s.lastCountdown = 0
}
