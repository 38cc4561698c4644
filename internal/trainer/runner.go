// Package trainer runs one Sequencer on a single goroutine that receives both
// clock ticks and control commands, so every entry point shares one authority.
package trainer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/clock"
	"github.com/JWTseng/boxing-timer-pro/internal/drift"
	"github.com/JWTseng/boxing-timer-pro/internal/snapshot"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// ErrNotRunning is returned by commands issued after Run has returned.
var ErrNotRunning = errors.New("runner not running")

// SnapshotStore persists a paused session between process runs.
type SnapshotStore interface {
	Save(timer.Snapshot) error
	Load(maxAge time.Duration) (timer.Snapshot, error)
	Clear() error
}

// Options tunes optional Runner behaviour.
type Options struct {
	// AutoResetAfter returns a completed session to Stopped; 0 disables it.
	AutoResetAfter time.Duration
	// Snapshots may be nil to disable persistence.
	Snapshots SnapshotStore
	// SnapshotMaxAge bounds which snapshot is restored at startup.
	SnapshotMaxAge time.Duration
}

type command struct {
	fn    func() error
	reply chan error
}

// Runner owns a Sequencer and the clock Source that feeds it.
type Runner struct {
	seq    *timer.Sequencer
	source *clock.Source
	guard  *drift.Guard
	clock  clock.Clock
	logger *zap.Logger
	opts   Options

	cmds chan command
	done chan struct{}

	// Owned by the Run goroutine.
	sourceSession uuid.UUID
	resetTimer    *clock.Timer
}

// NewRunner wires a Runner. Nothing happens until Run is called.
//
// Precondition: seq, source, guard, clk and logger must be non-nil.
func NewRunner(seq *timer.Sequencer, source *clock.Source, guard *drift.Guard, clk clock.Clock, logger *zap.Logger, opts Options) *Runner {
	return &Runner{
		seq:    seq,
		source: source,
		guard:  guard,
		clock:  clk,
		logger: logger,
		opts:   opts,
		cmds:   make(chan command),
		done:   make(chan struct{}),
	}
}

// Run processes ticks and commands until ctx is cancelled.
//
// Postcondition: The clock source is stopped and later commands return
// ErrNotRunning.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.source.Stop()
	defer r.cancelReset()

	r.restore()

	for {
		var resetC <-chan time.Time
		if r.resetTimer != nil {
			resetC = r.resetTimer.C
		}

		select {
		case <-ctx.Done():
			r.logger.Debug("runner stopping")
			return nil
		case cmd := <-r.cmds:
			err := cmd.fn()
			// The source must be measuring before the caller sees the reply.
			r.settle()
			cmd.reply <- err
		case tk := <-r.source.Ticks():
			r.apply(tk)
			r.settle()
		case <-resetC:
			r.resetTimer = nil
			if r.seq.Lifecycle() == timer.LifecycleCompleted {
				r.logger.Debug("auto reset after completion")
				r.seq.Stop()
			}
			r.settle()
		}
	}
}

// Configure replaces the session settings. See timer.Sequencer.Configure.
func (r *Runner) Configure(ctx context.Context, settings timer.Settings) error {
	return r.do(ctx, func() error { return r.seq.Configure(settings) })
}

// Start starts or resumes a session. See timer.Sequencer.Start.
func (r *Runner) Start(ctx context.Context) error {
	return r.do(ctx, func() error {
		wasPaused := r.seq.Lifecycle() == timer.LifecyclePaused
		if err := r.seq.Start(); err != nil {
			return err
		}
		if wasPaused {
			r.clearSnapshot()
		}
		return nil
	})
}

// Pause freezes a running session after applying all time measured so far.
// It reports whether the session was paused.
func (r *Runner) Pause(ctx context.Context) (bool, error) {
	var paused bool
	err := r.do(ctx, func() error {
		if r.seq.Lifecycle() == timer.LifecycleRunning {
			r.flush()
		}
		paused = r.seq.Pause()
		if paused {
			r.saveSnapshot()
		}
		return nil
	})
	return paused, err
}

// Resume continues a paused session. It reports whether the session resumed.
func (r *Runner) Resume(ctx context.Context) (bool, error) {
	var resumed bool
	err := r.do(ctx, func() error {
		resumed = r.seq.Resume()
		if resumed {
			r.clearSnapshot()
		}
		return nil
	})
	return resumed, err
}

// Stop ends the session from any state.
func (r *Runner) Stop(ctx context.Context) error {
	return r.do(ctx, func() error {
		r.seq.Stop()
		r.clearSnapshot()
		return nil
	})
}

// Snapshot returns the current sequencer state.
func (r *Runner) Snapshot(ctx context.Context) (timer.Snapshot, error) {
	var snap timer.Snapshot
	err := r.do(ctx, func() error {
		snap = r.seq.Snapshot()
		return nil
	})
	return snap, err
}

func (r *Runner) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) apply(tk clock.Tick) {
	if tk.Session != r.seq.Session() {
		return
	}
	r.seq.Tick(tk.Session, r.guard.Admit(tk, r.source.Interval()))
}

// flush applies every tick already measured for the running session.
func (r *Runner) flush() {
	final := r.source.Pause()
	for drained := false; !drained; {
		select {
		case tk := <-r.source.Ticks():
			r.apply(tk)
		default:
			drained = true
		}
	}
	if final.Delta > 0 {
		r.apply(final)
	}
}

// settle keeps the clock source and reset timer in line with the lifecycle.
func (r *Runner) settle() {
	session := r.seq.Session()
	switch r.seq.Lifecycle() {
	case timer.LifecycleRunning:
		// A restored session has never been measured, so it starts fresh too.
		if r.sourceSession != session {
			r.source.Start(session, r.seq.TotalRemaining())
			r.sourceSession = session
		} else if !r.source.Running() {
			r.source.Resume()
		}
	case timer.LifecycleCompleted:
		r.stopSource()
		if r.resetTimer == nil && r.opts.AutoResetAfter > 0 {
			r.resetTimer = r.clock.NewTimer(r.opts.AutoResetAfter)
		}
	case timer.LifecycleStopped:
		r.stopSource()
		r.cancelReset()
	}
}

func (r *Runner) stopSource() {
	if r.sourceSession == uuid.Nil {
		return
	}
	r.source.Stop()
	r.sourceSession = uuid.Nil
}

func (r *Runner) cancelReset() {
	if r.resetTimer != nil {
		r.resetTimer.Stop()
		r.resetTimer = nil
	}
}

func (r *Runner) restore() {
	if r.opts.Snapshots == nil {
		return
	}
	snap, err := r.opts.Snapshots.Load(r.opts.SnapshotMaxAge)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		return
	case err != nil:
		r.logger.Warn("discarding saved session", zap.Error(err))
		r.clearSnapshot()
		return
	}
	if err := r.seq.Restore(snap); err != nil {
		r.logger.Warn("saved session not restorable", zap.Error(err))
		r.clearSnapshot()
		return
	}
	r.settle()
}

func (r *Runner) saveSnapshot() {
	if r.opts.Snapshots == nil {
		return
	}
	if err := r.opts.Snapshots.Save(r.seq.Snapshot()); err != nil {
		r.logger.Warn("saving session snapshot", zap.Error(err))
	}
}

func (r *Runner) clearSnapshot() {
	if r.opts.Snapshots == nil {
		return
	}
	if err := r.opts.Snapshots.Clear(); err != nil {
		r.logger.Warn("clearing session snapshot", zap.Error(err))
	}
}
