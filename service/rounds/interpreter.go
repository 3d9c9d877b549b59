package rounds

import (
	"context"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/runtime/taskqueue"
)

// Invocation is one unit of work handed to the interpreter: either a task
// popped off the canister's queue or a fresh inbound message executing
// inside an open call context.
type Invocation struct {
	CanisterID model.CanisterID

	// Task is set when the work came off the task queue.
	Task *taskqueue.Task

	// Input is the message being executed, when any. Continuation tasks
	// carry their original input here as well.
	Input *model.Message

	// CallContextID is non-zero when the execution runs on behalf of an
	// open call.
	CallContextID model.CallContextID

	// Budget is the instruction allowance for this slice.
	Budget uint64

	Now model.Time
}

// OutcomeKind classifies how an invocation ended.
type OutcomeKind string

const (
	// OutcomeCompleted means the execution ran to its end.
	OutcomeCompleted OutcomeKind = "completed"
	// OutcomePaused means the budget ran out mid-execution and the
	// interpreter holds suspended state behind Handle.
	OutcomePaused OutcomeKind = "paused"
	// OutcomeTrapped means the execution failed and its effects were
	// rolled back; instructions executed up to the trap are still paid for.
	OutcomeTrapped OutcomeKind = "trapped"
)

// Outcome reports what the interpreter did with an invocation.
type Outcome struct {
	Kind OutcomeKind

	// Instructions executed during this slice.
	Instructions uint64

	// Handle identifies suspended interpreter state; set when Kind is
	// OutcomePaused, meaningless outside the current process lifetime.
	Handle uint64

	// Responded reports that the execution produced the terminal response
	// for its call context.
	Responded bool

	// TrapMessage carries the failure description when Kind is
	// OutcomeTrapped.
	TrapMessage string
}

// Interpreter is the sandboxed execution engine the driver delegates to.
// The driver owns all state bookkeeping; the interpreter runs code and
// reports what happened.
type Interpreter interface {
	Execute(ctx context.Context, inv Invocation) (Outcome, error)
}
