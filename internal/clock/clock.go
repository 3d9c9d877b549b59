// Package clock supplies wall time to the non-replicated edges (queue
// timestamps, trace spans). Replicated state transitions never call it;
// they take model.Time as an explicit argument from the round.
package clock

import "time"

// NowFunc returns current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }
