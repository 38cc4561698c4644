package scripting_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/scripting"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

func writeTempLua(t require.TestingT, dir, name, content string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func loadHooks(t *testing.T, limit int, scripts map[string]string) (*scripting.Hooks, *observer.ObservedLogs) {
	t.Helper()
	dir := t.TempDir()
	for name, src := range scripts {
		writeTempLua(t, dir, name, src)
	}
	core, logs := observer.New(zap.DebugLevel)
	h, err := scripting.Load(dir, limit, 16, zap.New(core), nil)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h, logs
}

// drain runs the hook queue until every buffered event has been handled.
func drain(t *testing.T, h *scripting.Hooks) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Run(ctx))
}

func TestLoad_RunsFilesInNameOrder(t *testing.T) {
	h, _ := loadHooks(t, 0, map[string]string{
		"10_first.lua":  `order = "a"`,
		"notes.txt":     `this is not lua`,
		"20_second.lua": "order = order .. \"b\"\nfunction get_order() return order end",
	})
	files := h.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "10_first.lua", filepath.Base(files[0]))

	ret, err := h.Call(context.Background(), "get_order")
	require.NoError(t, err)
	assert.Equal(t, lua.LString("ab"), ret)
}

func TestLoad_MissingDir(t *testing.T) {
	_, err := scripting.Load(filepath.Join(t.TempDir(), "nope"), 0, 0, zap.NewNop(), nil)
	assert.Error(t, err)
}

func TestLoad_SyntaxErrorNamesFile(t *testing.T) {
	dir := t.TempDir()
	writeTempLua(t, dir, "broken.lua", `function (`)
	_, err := scripting.Load(dir, 0, 0, zap.NewNop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.lua")
}

func TestLoad_InstructionLimitExceeded(t *testing.T) {
	dir := t.TempDir()
	writeTempLua(t, dir, "spin.lua", `while true do end`)
	_, err := scripting.Load(dir, 10, 0, zap.NewNop(), nil)
	assert.Error(t, err, "expected instruction limit error")
}

func TestCall_UndefinedHookIsNil(t *testing.T) {
	h, _ := loadHooks(t, 0, nil)
	ret, err := h.Call(context.Background(), scripting.HookPhaseChange)
	require.NoError(t, err)
	assert.Equal(t, lua.LNil, ret)
	assert.False(t, h.Defined(scripting.HookPhaseChange))
}

func TestCall_LimitIsPerCall(t *testing.T) {
	h, _ := loadHooks(t, 1000, map[string]string{"hooks.lua": `
		function small() local s = 0 for i = 1, 10 do s = s + i end return s end
		function spin() while true do end end
	`})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		ret, err := h.Call(ctx, "small")
		require.NoError(t, err)
		assert.Equal(t, lua.LNumber(55), ret)
	}

	_, err := h.Call(ctx, "spin")
	require.Error(t, err)

	ret, err := h.Call(ctx, "small")
	require.NoError(t, err, "VM must stay usable after a limit is hit")
	assert.Equal(t, lua.LNumber(55), ret)
}

func TestCall_RuntimeErrorReturned(t *testing.T) {
	h, _ := loadHooks(t, 0, map[string]string{"hooks.lua": `
		function on_phase_change(ev) error("boom") end
	`})
	_, err := h.Call(context.Background(), scripting.HookPhaseChange, lua.LNil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestModules_FormatAndLog(t *testing.T) {
	h, logs := loadHooks(t, 0, map[string]string{"hooks.lua": `
		function fmt(s) return timer.format_clock(s) end
		function label(p, r) return timer.phase_label(p, r) end
		timer.log.info("hello from lua")
		timer.log.debug("debug line")
	`})
	ctx := context.Background()

	ret, err := h.Call(ctx, "fmt", lua.LNumber(125.9))
	require.NoError(t, err)
	assert.Equal(t, lua.LString("02:05"), ret)

	ret, err = h.Call(ctx, "label", lua.LString("round"), lua.LNumber(3))
	require.NoError(t, err)
	assert.Equal(t, lua.LString("ROUND 03"), ret)

	assert.Equal(t, 1, logs.FilterMessage("hello from lua").FilterField(zap.String("source", "lua")).Len())
	assert.Equal(t, 1, logs.FilterMessage("debug line").Len())
}

func TestAttach_CallsEventHooks(t *testing.T) {
	h, logs := loadHooks(t, 0, map[string]string{"hooks.lua": `
		seen = {}
		function on_phase_change(ev)
			table.insert(seen, ev.phase .. ":" .. ev.round .. ":" .. ev.duration)
		end
		function on_countdown(ev)
			table.insert(seen, "cd" .. ev.seconds)
		end
		function on_training_complete(ev)
			table.insert(seen, "done" .. ev.total_rounds .. ":" .. ev.settings.round_time)
			timer.log.info("training done")
		end
		function summary() return table.concat(seen, ",") end
	`})
	bus := timer.NewBus(zap.NewNop(), nil)
	subs := h.Attach(bus)
	assert.Len(t, subs, 6)

	bus.Publish(timer.PhaseChanged{Phase: timer.PhaseRound, Round: 2, TotalRounds: 3, Duration: 90 * time.Second})
	bus.Publish(timer.CountdownTicked{SecondsRemaining: 3, Phase: timer.PhaseRound})
	bus.Publish(timer.Ticked{Phase: timer.PhaseRound})
	bus.Publish(timer.TrainingCompleted{
		TotalRounds: 3,
		Settings:    timer.Settings{RoundTime: 90, RoundCount: 3},
	})
	drain(t, h)

	ret, err := h.Call(context.Background(), "summary")
	require.NoError(t, err)
	assert.Equal(t, lua.LString("round:2:90,cd3,done3:90"), ret)
	assert.Equal(t, 1, logs.FilterMessage("training done").Len())
}

func TestAttach_HookErrorIsLoggedNotFatal(t *testing.T) {
	h, logs := loadHooks(t, 0, map[string]string{"hooks.lua": `
		calls = 0
		function on_round_complete(ev)
			calls = calls + 1
			if ev.round == 1 then error("bad round") end
		end
		function count() return calls end
	`})
	bus := timer.NewBus(zap.NewNop(), nil)
	h.Attach(bus)

	bus.Publish(timer.RoundCompleted{Round: 1, TotalRounds: 2})
	bus.Publish(timer.RoundCompleted{Round: 2, TotalRounds: 2})
	drain(t, h)

	ret, err := h.Call(context.Background(), "count")
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(2), ret)
	assert.Equal(t, 1, logs.FilterMessage("queued handler failed").Len())
}

func TestPlayCue_PassesCueTable(t *testing.T) {
	h, _ := loadHooks(t, 0, map[string]string{"hooks.lua": `
		last = ""
		function on_cue(c) last = c.kind .. "/" .. c.scheme .. "/" .. c.seconds end
		function get_last() return last end
	`})
	var p cue.Player = h
	require.NoError(t, p.PlayCue(context.Background(), cue.Cue{Kind: cue.KindCountdown, Scheme: cue.SchemeBeep, Seconds: 2}))

	ret, err := h.Call(context.Background(), "get_last")
	require.NoError(t, err)
	assert.Equal(t, lua.LString("countdown/beep/2"), ret)
}

func TestPlayCue_CancelledContextStopsScript(t *testing.T) {
	h, _ := loadHooks(t, 0, map[string]string{"hooks.lua": `
		function on_cue(c) while true do end end
	`})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, h.PlayCue(ctx, cue.Cue{Kind: cue.KindRoundStart}))
}

func TestProperty_InstructionLimitAlwaysErrors(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 50).Draw(rt, "limit")
		dir, err := os.MkdirTemp("", "lua")
		if err != nil {
			rt.Fatalf("tempdir: %v", err)
		}
		defer os.RemoveAll(dir)
		writeTempLua(rt, dir, "spin.lua", `while true do end`)
		if _, err := scripting.Load(dir, limit, 0, zap.NewNop(), nil); err == nil {
			rt.Fatalf("expected error with limit=%d but got nil", limit)
		}
	})
}
