// Package canister aggregates the four execution-state components of a
// single canister (call contexts, task queue, cycles ledger, change
// history) together with the canister version and controller set.
package canister

import (
	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
	"github.com/replivm/canstate/runtime/callcontext"
	"github.com/replivm/canstate/runtime/history"
	"github.com/replivm/canstate/runtime/ledger"
	"github.com/replivm/canstate/runtime/taskqueue"
)

// State is the replicated execution state of one canister. It is
// single-writer: the containing service serializes all access, matching the
// requirement that canister logic is single-threaded and deterministic.
type State struct {
	ID model.CanisterID

	// Version increments on every externally visible lifecycle change and
	// is what history entries are keyed by.
	Version uint64

	Controllers []model.PrincipalID

	Calls   *callcontext.Manager
	Tasks   *taskqueue.Queue
	Ledger  *ledger.Ledger
	History *history.History
}

// Config bounds a canister's resources.
type Config struct {
	// ReservedCyclesLimit caps the reserved balance; zero disables
	// reservations.
	ReservedCyclesLimit cycles.Cycles
	// HistoryRetention bounds the retained change log; non-positive keeps
	// everything.
	HistoryRetention int
}

// New provisions a fresh canister state holding the initial cycle balance.
func New(id model.CanisterID, initial cycles.Cycles, cfg Config) *State {
	return &State{
		ID:      id,
		Calls:   callcontext.NewManager(id),
		Tasks:   taskqueue.NewQueue(),
		Ledger:  ledger.New(initial, cfg.ReservedCyclesLimit),
		History: history.New(cfg.HistoryRetention),
	}
}

// BumpVersion advances the canister version and returns the new value.
func (s *State) BumpVersion() uint64 {
	s.Version++
	return s.Version
}
