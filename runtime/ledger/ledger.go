package ledger

import (
	"github.com/replivm/canstate/model/cycles"
	"github.com/replivm/canstate/model/fault"
)

// Ledger is the per-canister cycle account. All arithmetic is 128-bit
// unsigned; overflow and underflow are invariant violations, never silent
// wraparound. Single-writer by contract, no lock.
type Ledger struct {
	balance  cycles.Cycles
	reserved cycles.Cycles

	// reservedLimit bounds how many cycles may sit in the reserved balance;
	// zero means reservations are disabled.
	reservedLimit cycles.Cycles

	// consumed tracks net consumption per use case. Refunds decrement the
	// counter, so values are non-negative by construction but not monotonic.
	consumed map[cycles.UseCase]cycles.Cycles
}

// New returns a ledger holding the initial balance.
func New(initial cycles.Cycles, reservedLimit cycles.Cycles) *Ledger {
	return &Ledger{
		balance:       initial,
		reservedLimit: reservedLimit,
		consumed:      map[cycles.UseCase]cycles.Cycles{},
	}
}

// Charge debits amount from the free balance and attributes it to the use
// case. On insufficient funds it returns an InsufficientCyclesError and
// leaves the ledger untouched; a charge is atomic, never partial.
func (l *Ledger) Charge(amount cycles.Cycles, useCase cycles.UseCase) error {
	remaining, err := l.balance.Sub(amount)
	if err != nil {
		return &fault.InsufficientCyclesError{Op: "charge", Requested: amount, Available: l.balance}
	}
	total, err := l.consumed[useCase].Add(amount)
	if err != nil {
		return fault.Invariantf("charge", "consumption counter overflow for %s: %v", useCase, err)
	}
	l.balance = remaining
	l.consumed[useCase] = total
	return nil
}

// Refund credits amount back to the free balance and reverses the use-case
// attribution. Refunding more than was consumed for the use case, or
// overflowing the balance, is an invariant violation.
func (l *Ledger) Refund(amount cycles.Cycles, useCase cycles.UseCase) error {
	total, err := l.consumed[useCase].Sub(amount)
	if err != nil {
		return fault.Invariantf("refund", "refund of %s exceeds consumption %s for %s",
			amount, l.consumed[useCase], useCase)
	}
	balance, err := l.balance.Add(amount)
	if err != nil {
		return fault.Invariantf("refund", "balance overflow: %v", err)
	}
	l.balance = balance
	if total.IsZero() {
		delete(l.consumed, useCase)
	} else {
		l.consumed[useCase] = total
	}
	return nil
}

// Withdraw debits cycles that leave the canister, e.g. the amount attached
// to an outbound call. Unlike Charge nothing is recorded as consumed; the
// amount either reaches the callee or comes back as a refund deposit.
func (l *Ledger) Withdraw(amount cycles.Cycles) error {
	remaining, err := l.balance.Sub(amount)
	if err != nil {
		return &fault.InsufficientCyclesError{Op: "withdraw", Requested: amount, Available: l.balance}
	}
	l.balance = remaining
	return nil
}

// Reserve moves cycles from the free balance into the reserved balance. It
// fails with an InsufficientCyclesError when the free balance cannot cover
// the amount, and with an invariant violation when the configured
// reservation limit would be exceeded.
func (l *Ledger) Reserve(amount cycles.Cycles) error {
	reserved, err := l.reserved.Add(amount)
	if err != nil {
		return fault.Invariantf("reserve", "reserved balance overflow: %v", err)
	}
	if reserved.Cmp(l.reservedLimit) > 0 {
		return &fault.InsufficientCyclesError{Op: "reserve", Requested: amount,
			Available: l.reservedLimit.SaturatingSub(l.reserved)}
	}
	balance, err := l.balance.Sub(amount)
	if err != nil {
		return &fault.InsufficientCyclesError{Op: "reserve", Requested: amount, Available: l.balance}
	}
	l.balance = balance
	l.reserved = reserved
	return nil
}

// ReleaseReserved moves cycles back from the reserved balance to the free
// balance. Releasing more than is reserved is an invariant violation.
func (l *Ledger) ReleaseReserved(amount cycles.Cycles) error {
	reserved, err := l.reserved.Sub(amount)
	if err != nil {
		return fault.Invariantf("release-reserved", "release of %s exceeds reserved %s", amount, l.reserved)
	}
	balance, err := l.balance.Add(amount)
	if err != nil {
		return fault.Invariantf("release-reserved", "balance overflow: %v", err)
	}
	l.reserved = reserved
	l.balance = balance
	return nil
}

// Deposit credits externally transferred cycles to the free balance.
func (l *Ledger) Deposit(amount cycles.Cycles) error {
	balance, err := l.balance.Add(amount)
	if err != nil {
		return fault.Invariantf("deposit", "balance overflow: %v", err)
	}
	l.balance = balance
	return nil
}

// Balance returns the spendable balance.
func (l *Ledger) Balance() cycles.Cycles { return l.balance }

// Reserved returns the reserved balance.
func (l *Ledger) Reserved() cycles.Cycles { return l.reserved }

// ReservedLimit returns the configured reservation bound.
func (l *Ledger) ReservedLimit() cycles.Cycles { return l.reservedLimit }

// Consumed returns the net consumption attributed to the use case.
func (l *Ledger) Consumed(useCase cycles.UseCase) cycles.Cycles {
	return l.consumed[useCase]
}

// ConsumedBreakdown returns a copy of the consumption map. Iterate it with
// cycles.SortedUseCases for replica-identical output.
func (l *Ledger) ConsumedBreakdown() map[cycles.UseCase]cycles.Cycles {
	out := make(map[cycles.UseCase]cycles.Cycles, len(l.consumed))
	for k, v := range l.consumed {
		out[k] = v
	}
	return out
}
