package taskqueue

import (
	"github.com/replivm/canstate/model/cycles"
	"github.com/replivm/canstate/model/fault"
)

// HookStatus tracks the low-wasm-memory hook state machine:
// NotSatisfied -> Ready when the external memory-pressure signal crosses the
// canister's threshold, Ready -> Executed when the hook task is handed out,
// and back to NotSatisfied on explicit clearing. The hook never runs twice
// without the condition clearing in between.
type HookStatus string

const (
	HookConditionNotSatisfied HookStatus = "condition-not-satisfied"
	HookReady                 HookStatus = "ready"
	HookExecuted              HookStatus = "executed"
)

// Queue holds the schedulable work of one canister. Like the call-context
// Manager it is single-writer by contract and carries no lock.
type Queue struct {
	// slot holds the paused-or-aborted continuation, if any. It is mutually
	// exclusive with executing the same task elsewhere and is cleared only
	// on completion, permanent drop, or re-queue for retry.
	slot *Task

	// fifo holds queued system-task kinds in insertion order.
	fifo []Kind

	hook HookStatus

	// executing is the task currently handed to the interpreter, and
	// fromSlot records whether it was popped out of the slot.
	executing *Task
	fromSlot  bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{hook: HookConditionNotSatisfied}
}

// EnqueueSystemTask appends a system task in FIFO order. Enqueueing a kind
// that is already queued is a deliberate no-op so heartbeat/timer requests
// cannot pile up unboundedly. The low-memory hook can only be queued while
// its condition is Ready.
func (q *Queue) EnqueueSystemTask(kind Kind) error {
	switch kind {
	case KindHeartbeat, KindGlobalTimer:
	case KindOnLowWasmMemory:
		if q.hook != HookReady {
			return fault.Invariantf("enqueue-system-task", "low-memory hook queued while status is %q", q.hook)
		}
	default:
		return fault.Invariantf("enqueue-system-task", "%q is not a system task kind", kind)
	}
	for _, queued := range q.fifo {
		if queued == kind {
			return nil
		}
	}
	q.fifo = append(q.fifo, kind)
	return nil
}

// PopNext hands out the next task to execute. The occupied slot always takes
// priority over the FIFO queue; while a task is already executing nothing is
// handed out. Returns nil when there is no work.
func (q *Queue) PopNext() *Task {
	if q.executing != nil {
		return nil
	}
	if q.slot != nil {
		q.executing = q.slot
		q.fromSlot = true
		return q.slot
	}
	if len(q.fifo) == 0 {
		return nil
	}
	kind := q.fifo[0]
	q.fifo = q.fifo[1:]
	// The hook counts as run the moment it is handed out, so a second
	// enqueue cannot slip in while it executes.
	if kind == KindOnLowWasmMemory {
		q.hook = HookExecuted
	}
	task := &Task{Kind: kind}
	q.executing = task
	q.fromSlot = false
	return task
}

// OnInterrupted records that the executing task was paused or aborted
// mid-execution, occupying the slot with the wrapped continuation and the
// cycles already charged that must not be charged again on resume.
func (q *Queue) OnInterrupted(cont *Task) error {
	if q.executing == nil {
		return fault.Invariantf("on-interrupted", "no task is executing")
	}
	if cont == nil || !cont.IsContinuation() {
		return fault.Invariantf("on-interrupted", "interrupt must carry a continuation task")
	}
	if q.slot != nil && !q.fromSlot {
		return fault.Invariantf("on-interrupted", "paused-or-aborted slot already occupied")
	}
	q.slot = cont
	q.executing = nil
	q.fromSlot = false
	return nil
}

// OnInterruptedMessage occupies the slot with the continuation of a message
// execution that did not originate from this queue (a fresh inbound message
// handed straight to the interpreter). The slot must be free and nothing may
// be executing.
func (q *Queue) OnInterruptedMessage(cont *Task) error {
	if q.executing != nil {
		return fault.Invariantf("on-interrupted-message", "a queue task is executing")
	}
	if q.slot != nil {
		return fault.Invariantf("on-interrupted-message", "paused-or-aborted slot already occupied")
	}
	if cont == nil || !cont.IsContinuation() {
		return fault.Invariantf("on-interrupted-message", "interrupt must carry a continuation task")
	}
	q.slot = cont
	return nil
}

// OnCompleted clears the executing task (and the slot, when the task came
// out of it) and returns the prepaid cycles the continuation carried so the
// caller can reconcile them against the actual cost.
func (q *Queue) OnCompleted() (cycles.Cycles, error) {
	if q.executing == nil {
		return cycles.Zero(), fault.Invariantf("on-completed", "no task is executing")
	}
	prepaid := q.executing.PrepaidCycles()
	if q.fromSlot {
		q.slot = nil
	}
	q.executing = nil
	q.fromSlot = false
	return prepaid, nil
}

// AbortPaused converts a paused continuation in the slot into its aborted
// form, e.g. at a checkpoint boundary when live interpreter state cannot
// survive. No-op when the slot is empty or already aborted.
func (q *Queue) AbortPaused() error {
	if q.executing != nil {
		return fault.Invariantf("abort-paused", "cannot abort while a task is executing")
	}
	if q.slot == nil || !q.slot.IsPaused() {
		return nil
	}
	aborted, err := q.slot.AbortContinuation()
	if err != nil {
		return err
	}
	q.slot = aborted
	return nil
}

// DropPausedOrAborted permanently discards the slot continuation (e.g. on
// canister deletion, decided by the external scheduler) and returns its
// prepaid cycles for refund. The second return reports whether a
// continuation was dropped.
func (q *Queue) DropPausedOrAborted() (cycles.Cycles, bool) {
	if q.slot == nil {
		return cycles.Zero(), false
	}
	prepaid := q.slot.PrepaidCycles()
	q.slot = nil
	return prepaid, true
}

// SetHookCondition applies the external memory-pressure signal. Crossing
// into the threshold arms the hook; clearing resets it (and removes a queued
// hook task that has not run yet).
func (q *Queue) SetHookCondition(satisfied bool) {
	if satisfied {
		if q.hook == HookConditionNotSatisfied {
			q.hook = HookReady
		}
		return
	}
	q.hook = HookConditionNotSatisfied
	for i, kind := range q.fifo {
		if kind == KindOnLowWasmMemory {
			q.fifo = append(q.fifo[:i], q.fifo[i+1:]...)
			break
		}
	}
}

// HookStatus returns the current hook state.
func (q *Queue) HookStatus() HookStatus { return q.hook }

// HasPausedOrAborted reports whether the slot is occupied.
func (q *Queue) HasPausedOrAborted() bool { return q.slot != nil }

// PausedOrAborted returns the slot continuation, or nil.
func (q *Queue) PausedOrAborted() *Task { return q.slot }

// Executing returns the task currently handed to the interpreter, or nil.
func (q *Queue) Executing() *Task { return q.executing }

// Len returns the number of queued system tasks, excluding the slot.
func (q *Queue) Len() int { return len(q.fifo) }
