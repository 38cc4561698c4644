// Package render draws the running session on a terminal.
package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/observability"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// ANSI escape sequences used by the renderer.
const (
	ansiReset        = "\x1b[0m"
	ansiYellow       = "\x1b[33m"
	ansiGreen        = "\x1b[32m"
	ansiRed          = "\x1b[31m"
	ansiOrange       = "\x1b[38;5;208m"
	ansiBrightYellow = "\x1b[93m"
	ansiClearLine    = "\r\x1b[K"
)

// Options controls terminal output.
type Options struct {
	// Color enables ANSI colours.
	Color bool
	// InPlace redraws a single status line instead of printing one line per
	// second.
	InPlace bool
	// Orange selects the 256-colour orange for the warning window; bright
	// yellow is used otherwise.
	Orange bool
}

// Renderer prints one status line per displayed second.
type Renderer struct {
	w     io.Writer
	opts  Options
	queue *timer.Queue

	mu   sync.Mutex
	last displayKey
}

type displayKey struct {
	phase   timer.Phase
	round   int
	seconds int
}

// New creates a Renderer writing to w. Call Attach and Run to start drawing.
//
// Precondition: w and logger non-nil.
func New(w io.Writer, opts Options, queueSize int, logger *zap.Logger, metrics *observability.Metrics) *Renderer {
	r := &Renderer{w: w, opts: opts, last: displayKey{seconds: -1}}
	r.queue = timer.NewQueue("render", queueSize, r.handle, logger, metrics)
	return r
}

// Attach subscribes the renderer to tick, phase and lifecycle events.
func (r *Renderer) Attach(bus *timer.Bus) []timer.Subscription {
	return []timer.Subscription{
		bus.Subscribe(timer.KindStateChange, r.queue.Enqueue),
		bus.Subscribe(timer.KindPhaseChange, r.queue.Enqueue),
		bus.Subscribe(timer.KindTick, r.queue.Enqueue),
	}
}

// Run draws queued events until ctx is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	return r.queue.Run(ctx)
}

func (r *Renderer) handle(ev timer.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case timer.Ticked:
		key := displayKey{phase: e.Phase, round: e.Round, seconds: timer.CeilSeconds(e.RemainingInPhase)}
		if key == r.last {
			return nil
		}
		r.last = key
		return r.print(Line(e, r.opts))
	case timer.PhaseChanged:
		r.last = displayKey{seconds: -1}
		if r.opts.InPlace {
			_, err := io.WriteString(r.w, "\n")
			return err
		}
	case timer.StateChanged:
		r.last = displayKey{seconds: -1}
		if msg := stateMessage(e); msg != "" {
			_, err := fmt.Fprintf(r.w, "\n[%s]\n", msg)
			return err
		}
	}
	return nil
}

func (r *Renderer) print(line string) error {
	var err error
	if r.opts.InPlace {
		_, err = io.WriteString(r.w, ansiClearLine+line)
	} else {
		_, err = io.WriteString(r.w, line+"\n")
	}
	return err
}

// Line formats a tick as "ROUND 02  01:23  total 12:34".
func Line(t timer.Ticked, opts Options) string {
	var b strings.Builder
	color := ""
	if opts.Color {
		color = Color(t.Phase, t.IsWarning, opts.Orange)
		b.WriteString(color)
	}
	fmt.Fprintf(&b, "%-8s  %s  total %s",
		timer.PhaseLabel(t.Phase, t.Round),
		clock(t.RemainingInPhase),
		clock(t.TotalRemaining),
	)
	if color != "" {
		b.WriteString(ansiReset)
	}
	return b.String()
}

// Color returns the ANSI colour for a phase: prepare yellow, round green,
// warning orange or bright yellow, rest red. Other phases are uncoloured.
func Color(p timer.Phase, warning, orange bool) string {
	switch p {
	case timer.PhasePrepare:
		return ansiYellow
	case timer.PhaseRound:
		if !warning {
			return ansiGreen
		}
		if orange {
			return ansiOrange
		}
		return ansiBrightYellow
	case timer.PhaseRest:
		return ansiRed
	}
	return ""
}

func stateMessage(e timer.StateChanged) string {
	switch e.New {
	case timer.LifecyclePaused:
		return "paused"
	case timer.LifecycleRunning:
		if e.Old == timer.LifecyclePaused {
			return "resumed"
		}
		return "started"
	case timer.LifecycleStopped:
		if e.Old == timer.LifecycleCompleted {
			return ""
		}
		return "stopped"
	case timer.LifecycleCompleted:
		return "training complete"
	}
	return ""
}

func clock(d time.Duration) string {
	return timer.FormatClock(time.Duration(timer.CeilSeconds(d)) * time.Second)
}
