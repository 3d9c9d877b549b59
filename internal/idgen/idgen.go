// Package idgen generates opaque identifiers for transport-edge envelopes
// (queued messages, trace correlation). Replicated identifiers such as call
// context and callback ids never come from here; they are deterministic
// counters owned by the callcontext manager.
package idgen

import "github.com/google/uuid"

// NewFunc returns a new globally unique identifier as a string. It is a
// variable so tests can stub it.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new identifier.
func New() string { return NewFunc() }
