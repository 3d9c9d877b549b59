// Package taskqueue orders the schedulable work of a single canister: a FIFO
// of system tasks (heartbeat, global timer, low-memory hook) plus one slot
// for a paused or aborted execution continuation. The slot always takes
// priority (a canister never starts new work while an interrupted
// continuation is outstanding) and at most one task occupies it. Pausing is
// a data transition, not a blocked thread: the continuation sits in the slot
// until the external scheduler re-selects the canister.
package taskqueue
