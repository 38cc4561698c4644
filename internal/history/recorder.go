package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/observability"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// storeTimeout bounds one RecordSession call.
const storeTimeout = 5 * time.Second

// Recorder stores a Session when training completes, or when a started
// session is stopped early after some time has elapsed. Store calls run on
// the recorder's own queue, never on the dispatch path. Everything recorded
// comes from the events themselves, so a lagging queue still attributes each
// session correctly.
type Recorder struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
	queue  *timer.Queue

	mu     sync.Mutex
	preset string

	// Owned by the queue goroutine.
	active *Session
}

// NewRecorder creates a Recorder. Call Attach and Run to start recording.
//
// Precondition: store, now and logger must be non-nil.
func NewRecorder(store Store, now func() time.Time, queueSize int, logger *zap.Logger, metrics *observability.Metrics) *Recorder {
	r := &Recorder{store: store, now: now, logger: logger}
	r.queue = timer.NewQueue("history", queueSize, r.handle, logger, metrics)
	return r
}

// SetPreset names the preset that following sessions are recorded under.
// An empty name records sessions without one.
func (r *Recorder) SetPreset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preset = name
}

// Attach subscribes the recorder to the events it needs. The preset name and
// start time are captured when a session starts, not when the queue gets to it.
func (r *Recorder) Attach(bus *timer.Bus) []timer.Subscription {
	return []timer.Subscription{
		timer.On(bus, func(e timer.StateChanged) error {
			if e.Old == timer.LifecycleStopped && e.New != timer.LifecycleStopped {
				return r.queue.Enqueue(sessionStarted{StateChanged: e, preset: r.presetName(), at: r.now()})
			}
			return r.queue.Enqueue(e)
		}),
		bus.Subscribe(timer.KindRoundComplete, r.queue.Enqueue),
		bus.Subscribe(timer.KindTrainingComplete, r.queue.Enqueue),
	}
}

// sessionStarted is a start transition tagged with the preset in use.
type sessionStarted struct {
	timer.StateChanged
	preset string
	at     time.Time
}

func (r *Recorder) presetName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preset
}

// Run records queued events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	return r.queue.Run(ctx)
}

func (r *Recorder) handle(ev timer.Event) error {
	switch e := ev.(type) {
	case sessionStarted:
		r.begin(e.StateChanged, e.preset, e.at)
	case timer.StateChanged:
		if e.New == timer.LifecycleStopped && r.active != nil {
			r.active.Elapsed = e.Elapsed
			return r.finish(false)
		}
	case timer.RoundCompleted:
		if r.active != nil {
			r.active.CompletedRounds = e.Round
		}
	case timer.TrainingCompleted:
		if r.active == nil {
			r.begin(timer.StateChanged{Settings: e.Settings}, r.presetName(), r.now())
		}
		r.active.Settings = e.Settings
		r.active.TotalRounds = e.TotalRounds
		r.active.CompletedRounds = e.TotalRounds
		r.active.Elapsed = e.TotalElapsed
		return r.finish(true)
	}
	return nil
}

// begin opens a session from the transition out of Stopped. A restored
// session starts part way through, so its finished rounds are counted.
func (r *Recorder) begin(e timer.StateChanged, preset string, at time.Time) {
	completed := max(e.Round-1, 0)
	if e.Phase == timer.PhaseRest {
		completed = e.Round
	}
	r.active = &Session{
		PresetName:      preset,
		Settings:        e.Settings,
		TotalRounds:     e.Settings.RoundCount,
		CompletedRounds: completed,
		Elapsed:         e.Elapsed,
		StartedAt:       at.UTC(),
	}
}

func (r *Recorder) finish(completed bool) error {
	s := *r.active
	r.active = nil
	if !completed && s.Elapsed <= 0 {
		r.logger.Debug("session stopped before any time elapsed, not recorded")
		return nil
	}
	s.Completed = completed
	s.EndedAt = r.now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	saved, err := r.store.RecordSession(ctx, s)
	if err != nil {
		return fmt.Errorf("recording session: %w", err)
	}
	r.logger.Info("session recorded",
		zap.Int64("id", saved.ID),
		zap.Bool("completed", saved.Completed),
		zap.Int("rounds", saved.CompletedRounds),
		zap.Duration("elapsed", saved.Elapsed),
	)
	return nil
}
