package history

// Snapshot is the stable serialized form of a History.
type Snapshot struct {
	Changes         []Change `json:"changes,omitempty"`
	TotalNumChanges uint64   `json:"totalNumChanges"`
	Retention       int      `json:"retention"`
}

// Snapshot exports the history state.
func (h *History) Snapshot() *Snapshot {
	return &Snapshot{
		Changes:         append([]Change(nil), h.changes...),
		TotalNumChanges: h.total,
		Retention:       h.retention,
	}
}

// FromSnapshot rebuilds a History.
func FromSnapshot(s *Snapshot) *History {
	if s == nil {
		return New(0)
	}
	h := New(s.Retention)
	h.changes = append([]Change(nil), s.Changes...)
	h.total = s.TotalNumChanges
	return h
}
