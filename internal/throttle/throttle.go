// Package throttle coalesces fine-grained billing deltas into a bounded
// rate of progress events.
package throttle

import (
	"time"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// Default emission thresholds: an event fires when at least 10 tokens or
// 10^-4 display units have accrued since the last one, or 200 ms have
// elapsed. Steady-state emission stays under ~5 events/s while perceived
// latency stays under 200 ms.
const (
	DefaultTokenStep = 10
	DefaultCostStep  = sentinel.Picounits(100_000_000)
	DefaultMaxQuiet  = 200 * time.Millisecond
)

// Gate decides when a request's billing progress is worth emitting. One Gate
// serves one in-flight request; it is not safe for concurrent use.
type Gate struct {
	tokenStep int
	costStep  sentinel.Picounits
	maxQuiet  time.Duration

	lastTokens int
	lastCost   sentinel.Picounits
	lastAt     time.Time

	now func() time.Time
}

// New returns a Gate with the default thresholds.
func New() *Gate {
	return NewWithThresholds(DefaultTokenStep, DefaultCostStep, DefaultMaxQuiet)
}

// NewWithThresholds returns a Gate with explicit thresholds; non-positive
// values fall back to the defaults.
func NewWithThresholds(tokenStep int, costStep sentinel.Picounits, maxQuiet time.Duration) *Gate {
	if tokenStep <= 0 {
		tokenStep = DefaultTokenStep
	}
	if costStep <= 0 {
		costStep = DefaultCostStep
	}
	if maxQuiet <= 0 {
		maxQuiet = DefaultMaxQuiet
	}
	g := &Gate{
		tokenStep: tokenStep,
		costStep:  costStep,
		maxQuiet:  maxQuiet,
		now:       time.Now,
	}
	g.lastAt = g.now()
	return g
}

// Allow reports whether an event should be emitted for the given cumulative
// per-request token count and cost. When it returns true the gate's
// last-sent state advances to the given values.
func (g *Gate) Allow(tokens int, cost sentinel.Picounits) bool {
	now := g.now()
	if tokens-g.lastTokens < g.tokenStep &&
		cost-g.lastCost < g.costStep &&
		now.Sub(g.lastAt) < g.maxQuiet {
		return false
	}
	g.lastTokens = tokens
	g.lastCost = cost
	g.lastAt = now
	return true
}

// SinceLast returns the token delta accumulated since the last emission.
func (g *Gate) SinceLast(tokens int) int {
	return tokens - g.lastTokens
}
