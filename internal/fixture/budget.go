package fixture

import "time"

// Budget tracks the elapsed share of a configured timeout across the phases
// that draw on it. A zero Timeout means unlimited.
type Budget struct {
	Timeout time.Duration
	started time.Time
}

// StartBudget begins a budget of the given total duration.
func StartBudget(timeout time.Duration) *Budget {
	return &Budget{Timeout: timeout, started: time.Now()}
}

// Remaining returns the unspent share of the budget. The second return is
// false when the budget is unlimited.
func (b *Budget) Remaining() (time.Duration, bool) {
	if b.Timeout <= 0 {
		return 0, false
	}
	rem := b.Timeout - time.Since(b.started)
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

// Reset restarts the budget at its full duration. Used to hand the next
// phase a fresh remaining-time budget after a timeout fired.
func (b *Budget) Reset() {
	b.started = time.Now()
}

// Millis returns the configured timeout in milliseconds for diagnostics.
func (b *Budget) Millis() int64 {
	return b.Timeout.Milliseconds()
}
