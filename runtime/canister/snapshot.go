package canister

import (
	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/fault"
	"github.com/replivm/canstate/runtime/callcontext"
	"github.com/replivm/canstate/runtime/history"
	"github.com/replivm/canstate/runtime/ledger"
	"github.com/replivm/canstate/runtime/taskqueue"
)

// SchemaVersion is the current snapshot schema. The schema evolves
// additively: new optional fields may be introduced under a bumped version,
// and retired fields are listed in reservedFieldNames so their names are
// never reused with a different meaning.
const SchemaVersion = 1

// reservedFieldNames holds field names retired from earlier drafts of the
// schema. Do not reuse them.
var reservedFieldNames = []string{
	"pausedHandle", // interpreter handles were briefly serialized; never valid across restarts
	"cycleAccount", // superseded by the structured "cycles" ledger snapshot
	"statusFlags",  // folded into the task-queue hook status
}

// ReservedFieldNames returns the retired schema field names, for
// compatibility tooling.
func ReservedFieldNames() []string {
	return append([]string(nil), reservedFieldNames...)
}

// Snapshot is the stable, versioned serialized form of a canister's
// execution state.
type Snapshot struct {
	SchemaVersion int `json:"schemaVersion"`

	CanisterID  model.CanisterID      `json:"canisterId"`
	Version     uint64                `json:"version"`
	Controllers []model.PrincipalID   `json:"controllers,omitempty"`
	Calls       *callcontext.Snapshot `json:"calls,omitempty"`
	Tasks       *taskqueue.Snapshot   `json:"tasks,omitempty"`
	Cycles      *ledger.Snapshot      `json:"cycles,omitempty"`
	History     *history.Snapshot     `json:"history,omitempty"`
}

// EntityID implements the keyed-entity contract used by the state DAOs.
func (s *Snapshot) EntityID() model.CanisterID { return s.CanisterID }

// Clone returns a deep copy via the component snapshot types (which are
// already deep copies of live state, so a shallow re-snapshot suffices for
// the nested parts that are plain data).
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Controllers = append([]model.PrincipalID(nil), s.Controllers...)
	if s.Calls != nil {
		calls := *s.Calls
		calls.CallContexts = append([]*callcontext.CallContext(nil), s.Calls.CallContexts...)
		calls.Callbacks = append([]*callcontext.Callback(nil), s.Calls.Callbacks...)
		calls.Unexpired = append([]model.CallbackID(nil), s.Calls.Unexpired...)
		clone.Calls = &calls
	}
	if s.Tasks != nil {
		tasks := *s.Tasks
		tasks.FIFO = append([]taskqueue.Kind(nil), s.Tasks.FIFO...)
		clone.Tasks = &tasks
	}
	if s.Cycles != nil {
		cyclesSnap := *s.Cycles
		cyclesSnap.Consumed = append([]ledger.ConsumedEntry(nil), s.Cycles.Consumed...)
		clone.Cycles = &cyclesSnap
	}
	if s.History != nil {
		hist := *s.History
		hist.Changes = append([]history.Change(nil), s.History.Changes...)
		clone.History = &hist
	}
	return &clone
}

// Snapshot exports the full canister state. Paused continuations must have
// been aborted first (see taskqueue.Queue.AbortPaused).
func (s *State) Snapshot() (*Snapshot, error) {
	tasks, err := s.Tasks.Snapshot()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		SchemaVersion: SchemaVersion,
		CanisterID:    s.ID,
		Version:       s.Version,
		Controllers:   append([]model.PrincipalID(nil), s.Controllers...),
		Calls:         s.Calls.Snapshot(),
		Tasks:         tasks,
		Cycles:        s.Ledger.Snapshot(),
		History:       s.History.Snapshot(),
	}, nil
}

// FromSnapshot rebuilds the canister state. Snapshots from a newer schema
// than this build understands are rejected rather than partially decoded.
func FromSnapshot(snap *Snapshot) (*State, error) {
	if snap == nil {
		return nil, fault.Invariantf("restore", "nil snapshot")
	}
	if snap.SchemaVersion > SchemaVersion {
		return nil, fault.Invariantf("restore", "snapshot schema %d newer than supported %d",
			snap.SchemaVersion, SchemaVersion)
	}
	calls, err := callcontext.FromSnapshot(snap.CanisterID, snap.Calls)
	if err != nil {
		return nil, err
	}
	tasks, err := taskqueue.FromSnapshot(snap.Tasks)
	if err != nil {
		return nil, err
	}
	return &State{
		ID:          snap.CanisterID,
		Version:     snap.Version,
		Controllers: append([]model.PrincipalID(nil), snap.Controllers...),
		Calls:       calls,
		Tasks:       tasks,
		Ledger:      ledger.FromSnapshot(snap.Cycles),
		History:     history.FromSnapshot(snap.History),
	}, nil
}
