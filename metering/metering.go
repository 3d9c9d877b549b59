// Package metering provides a lightweight tracker that keeps aggregated
// execution counters (tasks run, messages run, instructions, cycles burned)
// for a single execution slice. The tracker instance lives in the slice
// context so every component that receives the context can atomically update
// the counters via the Delta helper without requiring a global registry.
// Counters are diagnostic only and never feed back into replicated state.
package metering

import (
	"context"
	"sync"
	"time"

	"github.com/replivm/canstate/model/cycles"
)

// Delta represents an incremental counter change emitted by the round
// driver. Integer fields are signed and can be either positive (increment)
// or negative (decrement).
type Delta struct {
	TasksRun     int
	MessagesRun  int
	Paused       int
	Trapped      int
	Instructions uint64
	CyclesBurned cycles.Cycles
}

// Metering keeps aggregated execution counters for one slice. It is safe
// for concurrent use.
type Metering struct {
	// Identification, informative only.
	CanisterID string
	StartedAt  time.Time

	// Counters, modified via Update().
	TasksRun     int
	MessagesRun  int
	Paused       int
	Trapped      int
	Instructions uint64
	CyclesBurned cycles.Cycles

	sync.Mutex
	onChange func(Metering)
}

// Update applies the supplied delta to the tracker. If an onChange callback
// has been registered it is invoked with a copy of the updated tracker
// outside the critical section so that the callback can perform slow
// operations without blocking the driver.
func (m *Metering) Update(d Delta) {
	if m == nil {
		return
	}

	m.Lock()

	m.TasksRun += d.TasksRun
	m.MessagesRun += d.MessagesRun
	m.Paused += d.Paused
	m.Trapped += d.Trapped
	m.Instructions += d.Instructions
	if burned, err := m.CyclesBurned.Add(d.CyclesBurned); err == nil {
		m.CyclesBurned = burned
	}

	snapshot := *m
	cb := m.onChange

	m.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (m *Metering) Snapshot() Metering {
	if m == nil {
		return Metering{}
	}
	m.Lock()
	defer m.Unlock()
	return *m
}

// OnChange registers a callback that is invoked after every Update. Passing
// nil disables the callback. Only one callback can be active; subsequent
// calls overwrite the previous value.
func (m *Metering) OnChange(cb func(Metering)) {
	if m == nil {
		return
	}
	m.Lock()
	m.onChange = cb
	m.Unlock()
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a new Metering tracker, embeds it in a derived
// context and returns both. The caller may optionally pass an onChange
// callback invoked after every counter update.
func WithNewTracker(ctx context.Context, canisterID string, onChange func(Metering)) (context.Context, *Metering) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr := &Metering{
		CanisterID: canisterID,
		StartedAt:  time.Now(),
		onChange:   onChange,
	}
	return context.WithValue(ctx, trackerKey, tr), tr
}

// FromContext extracts the Metering tracker from ctx. The second return
// value is false when the context carries no tracker.
func FromContext(ctx context.Context) (*Metering, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Metering)
	return tr, ok
}

// UpdateCtx looks up the tracker in ctx (if any) and applies the supplied
// delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
