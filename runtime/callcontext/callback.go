package callcontext

import (
	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
)

// Closure names a function to invoke inside the interpreter: an index into
// the canister's wasm function table plus one opaque environment word. This
// package never inspects or executes closures.
type Closure struct {
	FuncIdx uint32 `json:"funcIdx"`
	Env     uint64 `json:"env"`
}

// Callback is the bookkeeping record for one outstanding outbound call
// awaiting a response from another canister. It resolves exactly once via
// reply, reject or, when the call never returns, forced cleanup.
type Callback struct {
	ID model.CallbackID `json:"id"`

	// CallContextID is a non-owning reference to the inbound call this
	// outbound call was made on behalf of.
	CallContextID model.CallContextID `json:"callContextId"`

	OnReply   Closure  `json:"onReply"`
	OnReject  Closure  `json:"onReject"`
	OnCleanup *Closure `json:"onCleanup,omitempty"`

	// CyclesSent is the amount attached to the outbound call.
	CyclesSent cycles.Cycles `json:"cyclesSent"`

	// PrepaidExecution and PrepaidTransmission are charged up front for
	// executing and transmitting the response. The sum charged at call time
	// equals the sum refunded plus consumed at settlement time.
	PrepaidExecution    cycles.Cycles `json:"prepaidExecution"`
	PrepaidTransmission cycles.Cycles `json:"prepaidTransmission"`

	Originator model.CanisterID `json:"originator"`
	Respondent model.CanisterID `json:"respondent"`

	// Deadline is non-zero for best-effort calls, which may expire without
	// a response.
	Deadline model.Time `json:"deadline,omitempty"`
}

// IsBestEffort reports whether the callback may expire.
func (c *Callback) IsBestEffort() bool { return !c.Deadline.IsZero() }

// Clone returns a deep copy.
func (c *Callback) Clone() *Callback {
	if c == nil {
		return nil
	}
	clone := *c
	if c.OnCleanup != nil {
		cleanup := *c.OnCleanup
		clone.OnCleanup = &cleanup
	}
	return &clone
}

// CallbackSpec carries the caller-supplied parts of a callback
// registration; the Manager assigns the id.
type CallbackSpec struct {
	OnReply             Closure
	OnReject            Closure
	OnCleanup           *Closure
	CyclesSent          cycles.Cycles
	PrepaidExecution    cycles.Cycles
	PrepaidTransmission cycles.Cycles
	Respondent          model.CanisterID
	Deadline            model.Time
}
