package timer

import "time"

// EventKind identifies a notification emitted by the Sequencer.
type EventKind string

const (
	KindStateChange      EventKind = "stateChange"
	KindPhaseChange      EventKind = "phaseChange"
	KindWarningChange    EventKind = "warningChange"
	KindTick             EventKind = "tick"
	KindCountdownTick    EventKind = "countdownTick"
	KindRoundComplete    EventKind = "roundComplete"
	KindTrainingComplete EventKind = "trainingComplete"
)

// AllKinds lists every event kind in a stable order.
var AllKinds = []EventKind{
	KindStateChange,
	KindPhaseChange,
	KindWarningChange,
	KindTick,
	KindCountdownTick,
	KindRoundComplete,
	KindTrainingComplete,
}

// Event is implemented by every payload the Bus carries.
type Event interface {
	Kind() EventKind
}

// StateChanged reports a lifecycle transition. Round, Elapsed and Settings
// describe the session as it was at the transition, before Stop resets it.
type StateChanged struct {
	Old      Lifecycle     `json:"old_lifecycle"`
	New      Lifecycle     `json:"new_lifecycle"`
	Phase    Phase         `json:"phase"`
	Round    int           `json:"round"`
	Elapsed  time.Duration `json:"elapsed_total"`
	Settings Settings      `json:"settings"`
}

// PhaseChanged reports entry into a new phase.
type PhaseChanged struct {
	Phase       Phase         `json:"phase"`
	Round       int           `json:"round"`
	TotalRounds int           `json:"total_rounds"`
	Duration    time.Duration `json:"phase_duration"`
}

// WarningChanged reports an edge of the round warning window.
type WarningChanged struct {
	IsWarning        bool          `json:"is_warning"`
	RemainingInPhase time.Duration `json:"remaining_in_phase"`
	Round            int           `json:"round"`
}

// Ticked is emitted for every accepted tick.
type Ticked struct {
	RemainingInPhase time.Duration `json:"remaining_in_phase"`
	Phase            Phase         `json:"phase"`
	Round            int           `json:"round"`
	IsWarning        bool          `json:"is_warning"`
	TotalRemaining   time.Duration `json:"total_remaining"`
}

// CountdownTicked is emitted once per whole second during the last
// CountdownFrom seconds of any phase.
type CountdownTicked struct {
	SecondsRemaining int   `json:"seconds_remaining"`
	Phase            Phase `json:"phase"`
}

// RoundCompleted is emitted when a round phase reaches zero.
type RoundCompleted struct {
	Round       int `json:"round"`
	TotalRounds int `json:"total_rounds"`
}

// TrainingCompleted is emitted once, after the final round completes.
type TrainingCompleted struct {
	TotalRounds  int           `json:"total_rounds"`
	TotalElapsed time.Duration `json:"total_elapsed"`
	Settings     Settings      `json:"settings"`
}

func (StateChanged) Kind() EventKind      { return KindStateChange }
func (PhaseChanged) Kind() EventKind      { return KindPhaseChange }
func (WarningChanged) Kind() EventKind    { return KindWarningChange }
func (Ticked) Kind() EventKind            { return KindTick }
func (CountdownTicked) Kind() EventKind   { return KindCountdownTick }
func (RoundCompleted) Kind() EventKind    { return KindRoundComplete }
func (TrainingCompleted) Kind() EventKind { return KindTrainingComplete }

// TotalElapsedSeconds reports the elapsed training time in seconds.
func (e TrainingCompleted) TotalElapsedSeconds() float64 {
	return e.TotalElapsed.Seconds()
}
