package callcontext

import (
	"sort"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/fault"
)

// Snapshot is the stable serialized form of a Manager. Entries are kept in
// ascending id order so the encoding is identical across replicas.
type Snapshot struct {
	NextCallContextID uint64             `json:"nextCallContextId"`
	NextCallbackID    uint64             `json:"nextCallbackId"`
	CallContexts      []*CallContext     `json:"callContexts,omitempty"`
	Callbacks         []*Callback        `json:"callbacks,omitempty"`
	Unexpired         []model.CallbackID `json:"unexpired,omitempty"`
}

// Snapshot exports the manager state as deep copies.
func (m *Manager) Snapshot() *Snapshot {
	s := &Snapshot{
		NextCallContextID: m.nextCallContextID,
		NextCallbackID:    m.nextCallbackID,
	}
	for _, cc := range m.contexts {
		s.CallContexts = append(s.CallContexts, cc.Clone())
	}
	sort.Slice(s.CallContexts, func(i, j int) bool { return s.CallContexts[i].ID < s.CallContexts[j].ID })
	for _, cb := range m.callbacks {
		s.Callbacks = append(s.Callbacks, cb.Clone())
	}
	sort.Slice(s.Callbacks, func(i, j int) bool { return s.Callbacks[i].ID < s.Callbacks[j].ID })
	for id := range m.unexpired {
		s.Unexpired = append(s.Unexpired, id)
	}
	sort.Slice(s.Unexpired, func(i, j int) bool { return s.Unexpired[i] < s.Unexpired[j] })
	return s
}

// FromSnapshot rebuilds a Manager. It rejects snapshots whose counters have
// been rewound below an id they already handed out, since reusing ids breaks
// replay determinism.
func FromSnapshot(canisterID model.CanisterID, s *Snapshot) (*Manager, error) {
	m := NewManager(canisterID)
	if s == nil {
		return m, nil
	}
	if s.NextCallContextID > 0 {
		m.nextCallContextID = s.NextCallContextID
	}
	if s.NextCallbackID > 0 {
		m.nextCallbackID = s.NextCallbackID
	}
	for _, cc := range s.CallContexts {
		if uint64(cc.ID) >= m.nextCallContextID {
			return nil, fault.Invariantf("restore", "call context id %d not below counter %d", cc.ID, m.nextCallContextID)
		}
		m.contexts[cc.ID] = cc.Clone()
	}
	for _, cb := range s.Callbacks {
		if uint64(cb.ID) >= m.nextCallbackID {
			return nil, fault.Invariantf("restore", "callback id %d not below counter %d", cb.ID, m.nextCallbackID)
		}
		if _, ok := m.contexts[cb.CallContextID]; !ok {
			return nil, fault.Invariantf("restore", "callback %d references missing call context %d", cb.ID, cb.CallContextID)
		}
		m.callbacks[cb.ID] = cb.Clone()
		m.outstanding[cb.CallContextID]++
	}
	for _, id := range s.Unexpired {
		if _, ok := m.callbacks[id]; !ok {
			return nil, fault.Invariantf("restore", "unexpired set references missing callback %d", id)
		}
		m.unexpired[id] = struct{}{}
	}
	return m, nil
}
