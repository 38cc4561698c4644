package cue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/observability"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// playTimeout bounds a single PlayCue call.
const playTimeout = 5 * time.Second

// Dispatcher plays cues for session events off the dispatch goroutine.
type Dispatcher struct {
	player Player
	logger *zap.Logger
	queue  *timer.Queue

	mu   sync.RWMutex
	opts Options
}

// NewDispatcher creates a Dispatcher. Call Attach to subscribe it and Run to
// start playing.
//
// Precondition: player and logger must be non-nil.
func NewDispatcher(player Player, opts Options, queueSize int, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	d := &Dispatcher{player: player, logger: logger, opts: opts}
	d.queue = timer.NewQueue("cue", queueSize, d.handle, logger, metrics)
	return d
}

// Attach subscribes the dispatcher to every event kind that can produce a cue.
func (d *Dispatcher) Attach(bus *timer.Bus) []timer.Subscription {
	kinds := []timer.EventKind{
		timer.KindPhaseChange,
		timer.KindWarningChange,
		timer.KindCountdownTick,
		timer.KindRoundComplete,
		timer.KindTrainingComplete,
	}
	subs := make([]timer.Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, bus.Subscribe(k, d.queue.Enqueue))
	}
	return subs
}

// SetScheme switches the sound scheme for subsequent cues.
func (d *Dispatcher) SetScheme(s Scheme) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.Scheme = s
}

// Options returns the current cue options.
func (d *Dispatcher) Options() Options {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// Run plays queued cues until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.queue.Run(ctx)
}

func (d *Dispatcher) handle(ev timer.Event) error {
	c, ok := For(ev, d.Options())
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
	defer cancel()
	if err := d.player.PlayCue(ctx, c); err != nil {
		return fmt.Errorf("playing %s cue: %w", c.Kind, err)
	}
	d.logger.Debug("cue played", zap.String("cue", string(c.Kind)), zap.String("scheme", string(c.Scheme)))
	return nil
}

// MultiPlayer fans a cue out to several players.
type MultiPlayer []Player

// PlayCue plays c on every player and joins their errors.
func (m MultiPlayer) PlayCue(ctx context.Context, c Cue) error {
	var errs []error
	for _, p := range m {
		if err := p.PlayCue(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TerminalPlayer rings the terminal bell.
type TerminalPlayer struct {
	mu   sync.Mutex
	w    io.Writer
	bell bool
}

// NewTerminalPlayer returns a player writing BEL characters to w. With bell
// false it plays nothing.
func NewTerminalPlayer(w io.Writer, bell bool) *TerminalPlayer {
	return &TerminalPlayer{w: w, bell: bell}
}

// PlayCue rings once or more depending on the cue.
func (t *TerminalPlayer) PlayCue(_ context.Context, c Cue) error {
	if !t.bell {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, strings.Repeat("\a", rings(c.Kind)))
	return err
}

func rings(k Kind) int {
	switch k {
	case KindRoundEnd, KindWarning:
		return 2
	case KindTrainingComplete:
		return 3
	}
	return 1
}
