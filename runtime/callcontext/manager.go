package callcontext

import (
	"math"
	"sort"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
	"github.com/replivm/canstate/model/fault"
)

// Manager owns the call-context and callback tables of a single canister.
// It is single-writer by contract (one execution is current per canister at
// any instant), so it carries no lock; the containing service serializes
// access.
type Manager struct {
	canisterID model.CanisterID

	nextCallContextID uint64
	nextCallbackID    uint64

	contexts  map[model.CallContextID]*CallContext
	callbacks map[model.CallbackID]*Callback

	// unexpired holds best-effort callback ids whose deadline has not yet
	// been observed as elapsed.
	unexpired map[model.CallbackID]struct{}

	// outstanding counts unresolved callbacks per call context, so that
	// DeleteIfResponded does not scan the callback table.
	outstanding map[model.CallContextID]int
}

// NewManager returns an empty manager for the given canister. Counters start
// at 1; id 0 is never allocated so that the zero value of the id types can
// mean "unset".
func NewManager(canisterID model.CanisterID) *Manager {
	return &Manager{
		canisterID:        canisterID,
		nextCallContextID: 1,
		nextCallbackID:    1,
		contexts:          map[model.CallContextID]*CallContext{},
		callbacks:         map[model.CallbackID]*Callback{},
		unexpired:         map[model.CallbackID]struct{}{},
		outstanding:       map[model.CallContextID]int{},
	}
}

// OpenCallContext allocates the next call-context id and records an
// unresponded context with the supplied origin and attached funds. Running
// out of 64-bit ids is not expected in practice, but the contract rejects a
// silent wrap as a fatal invariant violation.
func (m *Manager) OpenCallContext(origin model.Origin, attached cycles.Cycles) (model.CallContextID, error) {
	if err := origin.Validate(); err != nil {
		return 0, err
	}
	if m.nextCallContextID == math.MaxUint64 {
		return 0, fault.Invariantf("open-call-context", "call context id space exhausted for canister %s", m.canisterID)
	}
	id := model.CallContextID(m.nextCallContextID)
	m.nextCallContextID++
	m.contexts[id] = &CallContext{
		ID:              id,
		Origin:          origin,
		AvailableCycles: attached,
	}
	return id, nil
}

// RegisterCallback allocates the next callback id for an outbound call made
// on behalf of the given call context. The context must be live (present and
// not deleted). Every callback joins the unexpired set; one registered with
// an already-elapsed deadline is collected by the next expiry sweep.
func (m *Manager) RegisterCallback(ctxID model.CallContextID, spec CallbackSpec) (model.CallbackID, error) {
	cc, ok := m.contexts[ctxID]
	if !ok || cc.Deleted {
		return 0, fault.Invariantf("register-callback", "call context %d is not live", ctxID)
	}
	if m.nextCallbackID == math.MaxUint64 {
		return 0, fault.Invariantf("register-callback", "callback id space exhausted for canister %s", m.canisterID)
	}
	id := model.CallbackID(m.nextCallbackID)
	m.nextCallbackID++
	m.callbacks[id] = &Callback{
		ID:                  id,
		CallContextID:       ctxID,
		OnReply:             spec.OnReply,
		OnReject:            spec.OnReject,
		OnCleanup:           spec.OnCleanup,
		CyclesSent:          spec.CyclesSent,
		PrepaidExecution:    spec.PrepaidExecution,
		PrepaidTransmission: spec.PrepaidTransmission,
		Originator:          m.canisterID,
		Respondent:          spec.Respondent,
		Deadline:            spec.Deadline,
	}
	m.outstanding[ctxID]++
	m.unexpired[id] = struct{}{}
	return id, nil
}

// OnResponse settles a callback: the entry is removed and the owning call
// context returned so the caller can execute the response and respond on the
// context. An unknown id yields a StaleReferenceError, which is expected for
// late responses to expired best-effort callbacks; the caller logs and drops it.
func (m *Manager) OnResponse(id model.CallbackID) (*CallContext, *Callback, error) {
	cb, ok := m.callbacks[id]
	if !ok {
		return nil, nil, &fault.StaleReferenceError{Kind: "callback", ID: uint64(id)}
	}
	cc, ok := m.contexts[cb.CallContextID]
	if !ok {
		return nil, nil, fault.Invariantf("on-response", "callback %d references missing call context %d", id, cb.CallContextID)
	}
	delete(m.callbacks, id)
	delete(m.unexpired, id)
	m.decrementOutstanding(cb.CallContextID)
	return cc, cb, nil
}

// MarkResponded records that the terminal response for the context has been
// produced. Responding twice is an invariant violation.
func (m *Manager) MarkResponded(id model.CallContextID) error {
	cc, ok := m.contexts[id]
	if !ok {
		return fault.Invariantf("mark-responded", "unknown call context %d", id)
	}
	if cc.Responded {
		return fault.Invariantf("mark-responded", "call context %d already responded", id)
	}
	cc.Responded = true
	return nil
}

// DeleteIfResponded garbage-collects the context once it has responded and
// no owned callbacks remain unresolved. It reports whether the context was
// removed; anything else is a no-op.
func (m *Manager) DeleteIfResponded(id model.CallContextID) bool {
	cc, ok := m.contexts[id]
	if !ok || !cc.Responded || m.outstanding[id] > 0 {
		return false
	}
	cc.Deleted = true
	delete(m.contexts, id)
	delete(m.outstanding, id)
	return true
}

// ExpireDeadlinedCallbacks removes every unexpired best-effort callback
// whose deadline lies before now and returns the entries in ascending id
// order for forced cleanup invocation. The call consumes state: a late
// response for a returned callback is a stale reference from then on.
func (m *Manager) ExpireDeadlinedCallbacks(now model.Time) []*Callback {
	var ids []model.CallbackID
	for id := range m.unexpired {
		cb := m.callbacks[id]
		if cb == nil {
			continue
		}
		if !cb.Deadline.IsZero() && cb.Deadline.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	expired := make([]*Callback, 0, len(ids))
	for _, id := range ids {
		cb := m.callbacks[id]
		delete(m.callbacks, id)
		delete(m.unexpired, id)
		m.decrementOutstanding(cb.CallContextID)
		expired = append(expired, cb)
	}
	return expired
}

// AddInstructions accumulates instructions executed on behalf of the call.
func (m *Manager) AddInstructions(id model.CallContextID, n uint64) error {
	cc, ok := m.contexts[id]
	if !ok {
		return fault.Invariantf("add-instructions", "unknown call context %d", id)
	}
	cc.InstructionsExecuted += n
	return nil
}

// WithdrawCycles consumes part of the funds attached to the call, e.g. when
// canister code accepts transferred cycles during execution.
func (m *Manager) WithdrawCycles(id model.CallContextID, amount cycles.Cycles) error {
	cc, ok := m.contexts[id]
	if !ok {
		return fault.Invariantf("withdraw-cycles", "unknown call context %d", id)
	}
	remaining, err := cc.AvailableCycles.Sub(amount)
	if err != nil {
		return &fault.InsufficientCyclesError{
			Op:        "withdraw-cycles",
			Requested: amount,
			Available: cc.AvailableCycles,
		}
	}
	cc.AvailableCycles = remaining
	return nil
}

// CallContext returns the live context with the given id, or nil.
func (m *Manager) CallContext(id model.CallContextID) *CallContext {
	return m.contexts[id]
}

// Callback returns the unresolved callback with the given id, or nil.
func (m *Manager) Callback(id model.CallbackID) *Callback {
	return m.callbacks[id]
}

// OutstandingCallbacks returns the number of unresolved callbacks owned by
// the context.
func (m *Manager) OutstandingCallbacks(id model.CallContextID) int {
	return m.outstanding[id]
}

// Stats summarizes the manager for metering.
type Stats struct {
	OpenCallContexts   int
	UnresolvedCallback int
	Unexpired          int
}

// Stats returns current table sizes.
func (m *Manager) Stats() Stats {
	return Stats{
		OpenCallContexts:   len(m.contexts),
		UnresolvedCallback: len(m.callbacks),
		Unexpired:          len(m.unexpired),
	}
}

func (m *Manager) decrementOutstanding(id model.CallContextID) {
	if n := m.outstanding[id]; n > 1 {
		m.outstanding[id] = n - 1
	} else {
		delete(m.outstanding, id)
	}
}
