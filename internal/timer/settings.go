// Package timer implements the training-session state machine: phase
// sequencing across prepare/round/rest, derived time quantities, and the
// notification bus its consumers subscribe to.
package timer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSettings is returned when Settings fail validation.
var ErrInvalidSettings = errors.New("invalid settings")

// ErrInvalidState is returned when an operation is attempted in a lifecycle
// state that forbids it.
var ErrInvalidState = errors.New("invalid state")

// Settings describes one training session. All durations are whole seconds.
//
// Invariants (enforced by Validate):
//   - PrepareTime, WarningTime, RestTime >= 0
//   - RoundTime >= 1
//   - RoundCount >= 1
//   - WarningTime <= RoundTime
type Settings struct {
	PrepareTime int `yaml:"prepare_time" json:"prepare_time" mapstructure:"prepare_time"`
	RoundTime   int `yaml:"round_time" json:"round_time" mapstructure:"round_time"`
	WarningTime int `yaml:"warning_time" json:"warning_time" mapstructure:"warning_time"`
	RestTime    int `yaml:"rest_time" json:"rest_time" mapstructure:"rest_time"`
	RoundCount  int `yaml:"round_count" json:"round_count" mapstructure:"round_count"`
}

// DefaultSettings returns the settings a fresh Sequencer starts with.
func DefaultSettings() Settings {
	return Settings{
		PrepareTime: 10,
		RoundTime:   30,
		WarningTime: 10,
		RestTime:    60,
		RoundCount:  10,
	}
}

// Validate checks every invariant and reports all violations at once.
//
// Postcondition: Returns nil, or an error wrapping ErrInvalidSettings.
func (s Settings) Validate() error {
	var errs []string
	if s.PrepareTime < 0 {
		errs = append(errs, fmt.Sprintf("prepare_time must be >= 0, got %d", s.PrepareTime))
	}
	if s.RoundTime < 1 {
		errs = append(errs, fmt.Sprintf("round_time must be >= 1, got %d", s.RoundTime))
	}
	if s.WarningTime < 0 {
		errs = append(errs, fmt.Sprintf("warning_time must be >= 0, got %d", s.WarningTime))
	}
	if s.RestTime < 0 {
		errs = append(errs, fmt.Sprintf("rest_time must be >= 0, got %d", s.RestTime))
	}
	if s.RoundCount < 1 {
		errs = append(errs, fmt.Sprintf("round_count must be >= 1, got %d", s.RoundCount))
	}
	if s.WarningTime > s.RoundTime {
		errs = append(errs, fmt.Sprintf("warning_time (%d) must not exceed round_time (%d)", s.WarningTime, s.RoundTime))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(errs, "; "))
	}
	return nil
}

// Prepare returns the prepare phase length.
func (s Settings) Prepare() time.Duration { return seconds(s.PrepareTime) }

// Round returns the round phase length.
func (s Settings) Round() time.Duration { return seconds(s.RoundTime) }

// Warning returns the warning window length.
func (s Settings) Warning() time.Duration { return seconds(s.WarningTime) }

// Rest returns the rest phase length.
func (s Settings) Rest() time.Duration { return seconds(s.RestTime) }

// Total returns the full session length: prepare, every round, and the rests
// between rounds. No rest follows the final round.
//
// Precondition: s must satisfy Validate.
func (s Settings) Total() time.Duration {
	n := time.Duration(s.RoundCount)
	return s.Prepare() + n*s.Round() + (n-1)*s.Rest()
}

// PhaseDuration returns the configured length of phase p; zero for Finished.
func (s Settings) PhaseDuration(p Phase) time.Duration {
	switch p {
	case PhasePrepare:
		return s.Prepare()
	case PhaseRound:
		return s.Round()
	case PhaseRest:
		return s.Rest()
	}
	return 0
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
