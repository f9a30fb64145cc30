// Package budget implements the process-wide spend ledger: a lock-free
// picounit accumulator with a budget limit and a latching breach flag.
package budget

import (
	"sync"
	"sync/atomic"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// Accumulator is the single source of truth for process-wide spend.
//
// Add is the hot path and is lock-free: concurrent request streams charge
// cost through a CAS loop on a single 64-bit counter. SetLimit, Reset and
// Snapshot are infrequent control-plane operations serialized by a mutex;
// they never contend with Add.
type Accumulator struct {
	total    atomic.Uint64
	limit    atomic.Uint64
	breached atomic.Bool

	mu sync.Mutex // serializes SetLimit/Reset/Snapshot against each other
}

// New returns an Accumulator with the given limit and zero spend.
func New(limit sentinel.Picounits) *Accumulator {
	a := &Accumulator{}
	a.limit.Store(uint64(limit))
	return a
}

// Precheck reports whether a charge of estimate picounits would be admitted.
// It returns sentinel.ErrBudgetExceeded when the breach flag is already set
// or when total+estimate exceeds the limit. No state is mutated.
func (a *Accumulator) Precheck(estimate sentinel.Picounits) error {
	if a.breached.Load() {
		return sentinel.ErrBudgetExceeded
	}
	total := sentinel.Picounits(a.total.Load())
	if total.AddSat(estimate) > sentinel.Picounits(a.limit.Load()) {
		return sentinel.ErrBudgetExceeded
	}
	return nil
}

// Add atomically charges the given amount, saturating at MaxPicounits.
// It returns the updated total and newlyBreached, which is true exactly
// once: on the transition from non-breached to breached.
func (a *Accumulator) Add(amount sentinel.Picounits) (total sentinel.Picounits, newlyBreached bool) {
	var newTotal uint64
	for {
		old := a.total.Load()
		newTotal = old + uint64(amount)
		if newTotal < old {
			newTotal = uint64(sentinel.MaxPicounits)
		}
		if a.total.CompareAndSwap(old, newTotal) {
			break
		}
	}

	if newTotal >= a.limit.Load() {
		// CAS latches the flag so only one caller observes the transition.
		newlyBreached = a.breached.CompareAndSwap(false, true)
	}
	return sentinel.Picounits(newTotal), newlyBreached
}

// Breached reports whether the breach latch is set.
func (a *Accumulator) Breached() bool {
	return a.breached.Load()
}

// SetLimit replaces the budget limit. If the current total already meets or
// exceeds the new limit the breach flag is set (hard stop); otherwise it is
// cleared, allowing recovery after a limit raise.
func (a *Accumulator) SetLimit(limit sentinel.Picounits) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit.Store(uint64(limit))
	a.breached.Store(a.total.Load() >= uint64(limit))
}

// Reset zeroes the total and clears the breach flag.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total.Store(0)
	a.breached.Store(false)
}

// Snapshot returns a consistent (total, limit, breached) triple. The breach
// value is derived from the flag or the total/limit compare, so a total that
// has crossed the limit reads as breached even while a concurrent Add is
// still latching the flag.
func (a *Accumulator) Snapshot() (total, limit sentinel.Picounits, breached bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.total.Load()
	l := a.limit.Load()
	return sentinel.Picounits(t), sentinel.Picounits(l), a.breached.Load() || t >= l
}
