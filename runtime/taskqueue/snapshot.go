package taskqueue

import (
	"github.com/replivm/canstate/model/fault"
)

// Snapshot is the stable serialized form of a Queue. A paused continuation
// references live interpreter state and cannot be serialized; callers must
// AbortPaused (and settle any executing task) before taking a snapshot.
type Snapshot struct {
	Slot *Task      `json:"slot,omitempty"`
	FIFO []Kind     `json:"fifo,omitempty"`
	Hook HookStatus `json:"hook"`
}

// Snapshot exports the queue state.
func (q *Queue) Snapshot() (*Snapshot, error) {
	if q.executing != nil {
		return nil, fault.Invariantf("snapshot", "task still executing")
	}
	if q.slot != nil && q.slot.IsPaused() {
		return nil, fault.Invariantf("snapshot", "paused continuation must be aborted before snapshotting")
	}
	s := &Snapshot{Hook: q.hook}
	if q.slot != nil {
		clone := *q.slot
		s.Slot = &clone
	}
	s.FIFO = append([]Kind(nil), q.fifo...)
	return s, nil
}

// FromSnapshot rebuilds a Queue.
func FromSnapshot(s *Snapshot) (*Queue, error) {
	q := NewQueue()
	if s == nil {
		return q, nil
	}
	if s.Hook != "" {
		switch s.Hook {
		case HookConditionNotSatisfied, HookReady, HookExecuted:
			q.hook = s.Hook
		default:
			return nil, fault.Invariantf("restore", "unknown hook status %q", s.Hook)
		}
	}
	if s.Slot != nil {
		if err := s.Slot.Validate(); err != nil {
			return nil, err
		}
		if !s.Slot.IsContinuation() || s.Slot.IsPaused() {
			return nil, fault.Invariantf("restore", "slot must hold an aborted continuation, got %q", s.Slot.Kind)
		}
		clone := *s.Slot
		q.slot = &clone
	}
	for _, kind := range s.FIFO {
		switch kind {
		case KindHeartbeat, KindGlobalTimer, KindOnLowWasmMemory:
		default:
			return nil, fault.Invariantf("restore", "%q is not a system task kind", kind)
		}
		q.fifo = append(q.fifo, kind)
	}
	return q, nil
}
