// Package drift decides how a long gap between ticks is charged to a session,
// for example after the process was suspended or starved of CPU.
package drift

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/clock"
	"github.com/JWTseng/boxing-timer-pro/internal/observability"
)

// Policy selects how a gap above the threshold is treated.
type Policy string

const (
	// PolicyJump charges the full gap: time away counts as training time.
	PolicyJump Policy = "jump"
	// PolicyFreeze charges one nominal interval: the session resumes where it
	// was when ticking stopped.
	PolicyFreeze Policy = "freeze"
)

// DefaultThreshold is the tick delta above which a gap is reported.
const DefaultThreshold = 3 * time.Second

// ErrUnknownPolicy is returned by ParsePolicy for unrecognised names.
var ErrUnknownPolicy = errors.New("unknown drift policy")

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyJump, PolicyFreeze:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Guard filters tick deltas before they reach the sequencer.
type Guard struct {
	policy    Policy
	threshold time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewGuard creates a Guard.
//
// Precondition: policy is PolicyJump or PolicyFreeze; logger non-nil.
// Postcondition: threshold <= 0 is replaced by DefaultThreshold.
func NewGuard(policy Policy, threshold time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Guard{policy: policy, threshold: threshold, logger: logger, metrics: metrics}
}

// Policy returns the configured policy.
func (g *Guard) Policy() Policy { return g.policy }

// Admit returns the delta to apply for tick. Deltas at or below the threshold
// pass through unchanged; larger ones are logged and resolved by the policy.
func (g *Guard) Admit(tick clock.Tick, nominal time.Duration) time.Duration {
	if tick.Delta <= g.threshold {
		return tick.Delta
	}
	g.metrics.TickGap(string(g.policy))
	applied := tick.Delta
	if g.policy == PolicyFreeze {
		applied = nominal
	}
	g.logger.Info("tick gap detected",
		zap.String("session", tick.Session.String()),
		zap.Duration("gap", tick.Delta),
		zap.Duration("applied", applied),
		zap.String("policy", string(g.policy)),
	)
	return applied
}
