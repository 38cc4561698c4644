package scripting

import (
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// registerModules installs the timer.* Lua table into L.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: the timer global is defined in L.
func (h *Hooks) registerModules(L *lua.LState) {
	mod := L.NewTable()
	L.SetField(mod, "format_clock", L.NewFunction(luaFormatClock))
	L.SetField(mod, "phase_label", L.NewFunction(luaPhaseLabel))

	logTbl := L.NewTable()
	L.SetField(logTbl, "debug", L.NewFunction(h.luaLog(zap.DebugLevel)))
	L.SetField(logTbl, "info", L.NewFunction(h.luaLog(zap.InfoLevel)))
	L.SetField(logTbl, "warn", L.NewFunction(h.luaLog(zap.WarnLevel)))
	L.SetField(mod, "log", logTbl)

	L.SetGlobal("timer", mod)
}

// timer.format_clock(seconds) -> "mm:ss"
func luaFormatClock(L *lua.LState) int {
	secs := float64(L.CheckNumber(1))
	L.Push(lua.LString(timer.FormatClock(time.Duration(secs * float64(time.Second)))))
	return 1
}

// timer.phase_label(phase, round) -> "ROUND 02"
func luaPhaseLabel(L *lua.LState) int {
	phase := timer.Phase(L.CheckString(1))
	round := L.OptInt(2, 0)
	L.Push(lua.LString(timer.PhaseLabel(phase, round)))
	return 1
}

func (h *Hooks) luaLog(level zapcore.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		if ce := h.logger.Check(level, L.CheckString(1)); ce != nil {
			ce.Write(zap.String("source", "lua"))
		}
		return 0
	}
}
