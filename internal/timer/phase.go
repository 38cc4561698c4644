package timer

import (
	"fmt"
	"time"
)

// Lifecycle is the run/pause/stop status of a session, orthogonal to Phase.
type Lifecycle string

const (
	LifecycleStopped   Lifecycle = "stopped"
	LifecycleRunning   Lifecycle = "running"
	LifecyclePaused    Lifecycle = "paused"
	LifecycleCompleted Lifecycle = "completed"
)

// Phase is a named segment of the training timeline.
type Phase string

const (
	PhasePrepare  Phase = "prepare"
	PhaseRound    Phase = "round"
	PhaseRest     Phase = "rest"
	PhaseFinished Phase = "finished"
)

// CountdownFrom is the number of trailing seconds in any phase during which
// CountdownTicked events are emitted.
const CountdownFrom = 3

// FormatClock renders d as "mm:ss", truncating fractional seconds.
// Negative durations render as "00:00".
//
// Postcondition: Minutes are zero-padded to at least two digits.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// PhaseLabel returns the display name of a phase, e.g. "ROUND 03".
func PhaseLabel(p Phase, round int) string {
	switch p {
	case PhasePrepare:
		return "PREPARE"
	case PhaseRound:
		return fmt.Sprintf("ROUND %02d", round)
	case PhaseRest:
		return "REST"
	case PhaseFinished:
		return "FINISHED"
	}
	return "UNKNOWN"
}

// CeilSeconds returns d rounded up to whole seconds, the way remaining time
// is displayed and counted down. Non-positive durations give 0.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
