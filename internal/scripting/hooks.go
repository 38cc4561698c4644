package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/observability"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// Global Lua functions called by Hooks. Undefined hooks are skipped.
const (
	HookStateChange      = "on_state_change"
	HookPhaseChange      = "on_phase_change"
	HookWarning          = "on_warning"
	HookCountdown        = "on_countdown"
	HookRoundComplete    = "on_round_complete"
	HookTrainingComplete = "on_training_complete"
	HookCue              = "on_cue"
)

var eventHooks = map[timer.EventKind]string{
	timer.KindStateChange:      HookStateChange,
	timer.KindPhaseChange:      HookPhaseChange,
	timer.KindWarningChange:    HookWarning,
	timer.KindCountdownTick:    HookCountdown,
	timer.KindRoundComplete:    HookRoundComplete,
	timer.KindTrainingComplete: HookTrainingComplete,
}

// Hooks owns one sandboxed Lua VM loaded with every script in a directory.
// Calls into the VM are serialized.
type Hooks struct {
	mu     sync.Mutex
	L      *lua.LState
	limit  int
	logger *zap.Logger
	queue  *timer.Queue
	files  []string
}

// Load creates a sandboxed VM and runs every *.lua file in dir in name order.
//
// Precondition: dir must be a readable directory; logger non-nil.
// Postcondition: Returns Hooks ready for Attach and Run, or an error naming
// the file that failed to load. instLimit <= 0 uses DefaultInstructionLimit.
func Load(dir string, instLimit, queueSize int, logger *zap.Logger, metrics *observability.Metrics) (*Hooks, error) {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("opening script dir: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, fmt.Errorf("listing scripts in %q: %w", dir, err)
	}
	sort.Strings(files)

	h := &Hooks{
		L:      NewSandboxedState(),
		limit:  instLimit,
		logger: logger.With(zap.String("component", "scripting")),
		files:  files,
	}
	h.registerModules(h.L)
	h.queue = timer.NewQueue("scripting", queueSize, h.handle, logger, metrics)

	for _, f := range files {
		err := withBudget(context.Background(), h.L, h.limit, func() error {
			return h.L.DoFile(f)
		})
		if err != nil {
			h.L.Close()
			return nil, fmt.Errorf("loading script %q: %w", filepath.Base(f), err)
		}
	}
	h.logger.Info("scripts loaded", zap.Int("count", len(files)))
	return h, nil
}

// Files returns the loaded script paths in load order.
func (h *Hooks) Files() []string {
	return append([]string(nil), h.files...)
}

// Defined reports whether a global function named hook exists.
func (h *Hooks) Defined(hook string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.L.GetGlobal(hook).(*lua.LFunction)
	return ok
}

// Call invokes the global Lua function hook with args under the per-call
// instruction limit.
//
// Postcondition: Returns (LNil, nil) if hook is not defined. Runtime errors
// and exceeded limits are returned, never raised.
func (h *Hooks) Call(ctx context.Context, hook string, args ...lua.LValue) (lua.LValue, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn, ok := h.L.GetGlobal(hook).(*lua.LFunction)
	if !ok {
		return lua.LNil, nil
	}
	var ret lua.LValue = lua.LNil
	err := withBudget(ctx, h.L, h.limit, func() error {
		if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
			return err
		}
		ret = h.L.Get(-1)
		h.L.Pop(1)
		return nil
	})
	if err != nil {
		return lua.LNil, fmt.Errorf("lua hook %s: %w", hook, err)
	}
	return ret, nil
}

// Attach subscribes the hooks to every event kind that has a Lua hook.
func (h *Hooks) Attach(bus *timer.Bus) []timer.Subscription {
	subs := make([]timer.Subscription, 0, len(eventHooks))
	for _, k := range timer.AllKinds {
		if _, ok := eventHooks[k]; ok {
			subs = append(subs, bus.Subscribe(k, h.queue.Enqueue))
		}
	}
	return subs
}

// Run calls hooks for queued events until ctx is cancelled.
func (h *Hooks) Run(ctx context.Context) error {
	return h.queue.Run(ctx)
}

// PlayCue passes c to on_cue so scripts can add their own cue output.
func (h *Hooks) PlayCue(ctx context.Context, c cue.Cue) error {
	h.mu.Lock()
	t := h.L.NewTable()
	t.RawSetString("kind", lua.LString(c.Kind))
	t.RawSetString("scheme", lua.LString(c.Scheme))
	t.RawSetString("round", lua.LNumber(c.Round))
	t.RawSetString("seconds", lua.LNumber(c.Seconds))
	h.mu.Unlock()

	_, err := h.Call(ctx, HookCue, t)
	return err
}

// Close releases the VM.
func (h *Hooks) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.L.Close()
}

func (h *Hooks) handle(ev timer.Event) error {
	hook, ok := eventHooks[ev.Kind()]
	if !ok {
		return nil
	}
	h.mu.Lock()
	t := eventTable(h.L, ev)
	h.mu.Unlock()

	_, err := h.Call(context.Background(), hook, t)
	return err
}

// eventTable converts ev into a Lua table with snake_case keys. Durations are
// expressed in seconds.
func eventTable(L *lua.LState, ev timer.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("kind", lua.LString(ev.Kind()))
	switch e := ev.(type) {
	case timer.StateChanged:
		t.RawSetString("old", lua.LString(e.Old))
		t.RawSetString("new", lua.LString(e.New))
		t.RawSetString("phase", lua.LString(e.Phase))
	case timer.PhaseChanged:
		t.RawSetString("phase", lua.LString(e.Phase))
		t.RawSetString("round", lua.LNumber(e.Round))
		t.RawSetString("total_rounds", lua.LNumber(e.TotalRounds))
		t.RawSetString("duration", lua.LNumber(e.Duration.Seconds()))
	case timer.WarningChanged:
		t.RawSetString("is_warning", lua.LBool(e.IsWarning))
		t.RawSetString("remaining", lua.LNumber(e.RemainingInPhase.Seconds()))
		t.RawSetString("round", lua.LNumber(e.Round))
	case timer.CountdownTicked:
		t.RawSetString("seconds", lua.LNumber(e.SecondsRemaining))
		t.RawSetString("phase", lua.LString(e.Phase))
	case timer.RoundCompleted:
		t.RawSetString("round", lua.LNumber(e.Round))
		t.RawSetString("total_rounds", lua.LNumber(e.TotalRounds))
	case timer.TrainingCompleted:
		t.RawSetString("total_rounds", lua.LNumber(e.TotalRounds))
		t.RawSetString("elapsed", lua.LNumber(e.TotalElapsedSeconds()))
		st := L.NewTable()
		st.RawSetString("prepare_time", lua.LNumber(e.Settings.PrepareTime))
		st.RawSetString("round_time", lua.LNumber(e.Settings.RoundTime))
		st.RawSetString("warning_time", lua.LNumber(e.Settings.WarningTime))
		st.RawSetString("rest_time", lua.LNumber(e.Settings.RestTime))
		st.RawSetString("round_count", lua.LNumber(e.Settings.RoundCount))
		t.RawSetString("settings", st)
	}
	return t
}
