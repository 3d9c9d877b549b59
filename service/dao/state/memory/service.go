// Package memory implements in-memory canister-snapshot storage. All
// operations are thread-safe and exchange deep copies, so callers can
// mutate what they get back without racing the store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/runtime/canister"
	"github.com/replivm/canstate/service/dao"
)

// Service implements dao.Service for canister snapshots.
type Service struct {
	snapshots map[model.CanisterID]*canister.Snapshot
	mux       sync.RWMutex
}

// Compile-time checks that Service implements the generic DAO interface and
// that snapshots satisfy the entity contract it relies on.
var (
	_ dao.Service[model.CanisterID, canister.Snapshot] = (*Service)(nil)
	_ dao.Entity[model.CanisterID, canister.Snapshot]  = (*canister.Snapshot)(nil)
)

// New constructor.
func New() *Service {
	return &Service{snapshots: map[model.CanisterID]*canister.Snapshot{}}
}

// Save persists (a clone of) the supplied snapshot.
func (s *Service) Save(_ context.Context, snap *canister.Snapshot) error {
	if snap == nil {
		return dao.ErrNilEntity
	}
	if snap.EntityID() == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	s.snapshots[snap.EntityID()] = snap.Clone()
	return nil
}

// Load retrieves a copy of the snapshot or dao.ErrNotFound.
func (s *Service) Load(_ context.Context, id model.CanisterID) (*canister.Snapshot, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mux.RLock()
	snap, ok := s.snapshots[id]
	s.mux.RUnlock()

	if !ok {
		return nil, dao.ErrNotFound
	}
	return snap.Clone(), nil
}

// Delete removes a snapshot.
func (s *Service) Delete(_ context.Context, id model.CanisterID) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.snapshots[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.snapshots, id)
	return nil
}

// List returns copies of all snapshots in canister-id order. The
// "controller" parameter keeps only canisters controlled by the given
// principal.
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*canister.Snapshot, error) {
	var controller string
	for _, p := range parameters {
		if p != nil && p.Name == "controller" {
			controller = p.StringValue()
		}
	}

	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*canister.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		if controller != "" && !hasController(snap, model.PrincipalID(controller)) {
			continue
		}
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanisterID < out[j].CanisterID })
	return out, nil
}

func hasController(snap *canister.Snapshot, principal model.PrincipalID) bool {
	for _, c := range snap.Controllers {
		if c == principal {
			return true
		}
	}
	return false
}
