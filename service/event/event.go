// Package event publishes execution-state lifecycle events (contexts
// opened and closed, callbacks expired, tasks completed, history appended)
// for consumption by external introspection and telemetry. Events are an
// output of the state machine, never an input: dropping every event changes
// nothing about replicated state.
package event

import (
	"time"

	"github.com/replivm/canstate/internal/clock"
	"github.com/replivm/canstate/model"
)

// Type names an event kind.
type Type string

const (
	TypeCallContextOpened Type = "call-context-opened"
	TypeCallContextClosed Type = "call-context-closed"
	TypeCallbackExpired   Type = "callback-expired"
	TypeStaleReference    Type = "stale-reference"
	TypeTaskInterrupted   Type = "task-interrupted"
	TypeTaskCompleted     Type = "task-completed"
	TypeHistoryRecorded   Type = "history-recorded"
)

// Context identifies what an event is about.
type Context struct {
	CanisterID    model.CanisterID    `json:"canisterId"`
	EventType     Type                `json:"eventType"`
	CallContextID model.CallContextID `json:"callContextId,omitempty"`
	CallbackID    model.CallbackID    `json:"callbackId,omitempty"`
}

// Event pairs a context with an arbitrary payload.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

// NewEvent builds an event stamped with transport-edge wall time.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Data:      data,
	}
}
