package callcontext

import (
	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
)

// CallContext is the bookkeeping record for one open inbound call awaiting a
// terminal response. Fields are exported for snapshot serialization; all
// mutation goes through the Manager.
type CallContext struct {
	ID     model.CallContextID `json:"id"`
	Origin model.Origin        `json:"origin"`

	// Responded becomes true exactly once, when the reply or reject for
	// this call is produced. A second response is an invariant violation.
	Responded bool `json:"responded"`

	// Deleted is set when the response has been delivered and the context
	// became eligible for garbage collection. A context is deleted only
	// after Responded is true.
	Deleted bool `json:"deleted"`

	// InstructionsExecuted accumulates the instructions spent on this call
	// across slices (deterministic time slicing may split one message over
	// several rounds).
	InstructionsExecuted uint64 `json:"instructionsExecuted"`

	// AvailableCycles is what remains of the funds attached to the call.
	AvailableCycles cycles.Cycles `json:"availableCycles"`
}

// IsBestEffort reports whether the inbound call carries a deadline.
func (c *CallContext) IsBestEffort() bool {
	return !c.Origin.DeadlineOrZero().IsZero()
}

// Clone returns a deep copy.
func (c *CallContext) Clone() *CallContext {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
