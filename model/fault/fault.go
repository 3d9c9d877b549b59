// Package fault defines the error taxonomy shared by the execution-state
// components. Three failure classes exist:
//
//   - InvariantError: an unrecoverable protocol invariant violation (double
//     response, counter rewind, balance underflow). The enclosing round must
//     abort deterministically on every replica; nothing recovers it locally.
//   - InsufficientCyclesError: recoverable resource exhaustion, surfaced so
//     the execution layer can reject or defer the call.
//   - StaleReferenceError: a response or cleanup naming an already removed
//     or expired callback. Expected under best-effort deadlines; logged and
//     dropped, state untouched.
//
// Instruction-budget exhaustion is not an error at all: pausing/aborting is
// a first-class state transition handled by the task queue.
package fault

import (
	"errors"
	"fmt"

	"github.com/replivm/canstate/model/cycles"
)

// InvariantError reports a protocol invariant violation.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

// Invariantf builds an InvariantError with a formatted detail.
func Invariantf(op, format string, args ...interface{}) *InvariantError {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// IsInvariant reports whether err is (or wraps) an InvariantError.
func IsInvariant(err error) bool {
	var target *InvariantError
	return errors.As(err, &target)
}

// InsufficientCyclesError reports that a charge or reservation exceeded the
// funds available. The ledger is left untouched when it is returned.
type InsufficientCyclesError struct {
	Op        string
	Requested cycles.Cycles
	Available cycles.Cycles
}

func (e *InsufficientCyclesError) Error() string {
	return fmt.Sprintf("%s: insufficient cycles: requested %s, available %s",
		e.Op, e.Requested, e.Available)
}

// IsInsufficientCycles reports whether err is (or wraps) an
// InsufficientCyclesError.
func IsInsufficientCycles(err error) bool {
	var target *InsufficientCyclesError
	return errors.As(err, &target)
}

// StaleReferenceError reports a reference to a callback or call context that
// no longer exists. Callers log and drop it; it never mutates state.
type StaleReferenceError struct {
	Kind string // "callback" or "call-context"
	ID   uint64
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stale %s reference: id %d", e.Kind, e.ID)
}

// IsStaleReference reports whether err is (or wraps) a StaleReferenceError.
func IsStaleReference(err error) bool {
	var target *StaleReferenceError
	return errors.As(err, &target)
}
