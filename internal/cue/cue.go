// Package cue turns session events into audible and haptic cues and hands
// them to players.
package cue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// Kind names a cue.
type Kind string

const (
	KindRoundStart       Kind = "round_start"
	KindRoundEnd         Kind = "round_end"
	KindRestStart        Kind = "rest_start"
	KindRestEnd          Kind = "rest_end"
	KindPrepare          Kind = "prepare"
	KindWarning          Kind = "warning"
	KindCountdown        Kind = "countdown"
	KindTrainingComplete Kind = "training_complete"
)

// Scheme is a family of sounds.
type Scheme string

const (
	SchemeBell    Scheme = "bell"
	SchemeWhistle Scheme = "whistle"
	SchemeBeep    Scheme = "beep"
)

// ErrUnknownScheme is returned by ParseScheme for unrecognised names.
var ErrUnknownScheme = errors.New("unknown sound scheme")

// ParseScheme converts a configuration value into a Scheme.
func ParseScheme(s string) (Scheme, error) {
	switch sc := Scheme(s); sc {
	case SchemeBell, SchemeWhistle, SchemeBeep:
		return sc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheme, s)
}

// Cue is one request to play a sound and optionally vibrate.
type Cue struct {
	Kind   Kind   `json:"kind"`
	Scheme Scheme `json:"scheme"`
	// Round is the round the cue belongs to; 0 during prepare.
	Round int `json:"round,omitempty"`
	// Seconds is set for countdown cues.
	Seconds int `json:"seconds,omitempty"`
	// Vibration is the on/off pattern to play, empty when vibration is disabled.
	Vibration []time.Duration `json:"vibration,omitempty"`
}

// Player plays cues. Players that cannot act on a cue return nil.
type Player interface {
	PlayCue(ctx context.Context, c Cue) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, c Cue) error

// PlayCue calls f.
func (f PlayerFunc) PlayCue(ctx context.Context, c Cue) error { return f(ctx, c) }

// VibrationPattern returns the alternating on/off durations for kind.
func VibrationPattern(kind Kind) []time.Duration {
	ms := func(v ...int) []time.Duration {
		out := make([]time.Duration, len(v))
		for i, n := range v {
			out[i] = time.Duration(n) * time.Millisecond
		}
		return out
	}
	switch kind {
	case KindRoundStart:
		return ms(200, 100, 200)
	case KindRoundEnd:
		return ms(300)
	case KindRestStart:
		return ms(100, 50, 100)
	case KindRestEnd:
		return ms(150)
	case KindPrepare:
		return ms(100)
	case KindTrainingComplete:
		return ms(200, 100, 200, 100, 200)
	case KindCountdown:
		return ms(50)
	case KindWarning:
		return ms(100, 50, 100, 50, 100)
	}
	return nil
}

// Options controls which cues are produced.
type Options struct {
	Scheme          Scheme
	EnableCountdown bool
	EnableVibration bool
}

// For maps a session event to the cue it should trigger, if any.
func For(ev timer.Event, opts Options) (Cue, bool) {
	var c Cue
	switch e := ev.(type) {
	case timer.PhaseChanged:
		c.Round = e.Round
		switch {
		case e.Phase == timer.PhasePrepare:
			c.Kind = KindPrepare
		case e.Phase == timer.PhaseRound && e.Round > 1:
			// Entering round 2+ closes the preceding rest.
			c.Kind = KindRestEnd
		case e.Phase == timer.PhaseRound:
			c.Kind = KindRoundStart
		case e.Phase == timer.PhaseRest:
			c.Kind = KindRestStart
		default:
			return Cue{}, false
		}
	case timer.WarningChanged:
		if !e.IsWarning {
			return Cue{}, false
		}
		c.Kind, c.Round = KindWarning, e.Round
	case timer.CountdownTicked:
		if !opts.EnableCountdown {
			return Cue{}, false
		}
		c.Kind, c.Seconds = KindCountdown, e.SecondsRemaining
	case timer.RoundCompleted:
		if e.Round == e.TotalRounds {
			// The completion cue follows immediately.
			return Cue{}, false
		}
		c.Kind, c.Round = KindRoundEnd, e.Round
	case timer.TrainingCompleted:
		c.Kind, c.Round = KindTrainingComplete, e.TotalRounds
	default:
		return Cue{}, false
	}
	c.Scheme = opts.Scheme
	if opts.EnableVibration {
		c.Vibration = VibrationPattern(c.Kind)
	}
	return c, true
}
