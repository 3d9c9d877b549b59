package model

import "strconv"

// CanisterID identifies a canister within the subnet. It is treated as an
// opaque textual principal; this package never inspects its structure.
type CanisterID string

// PrincipalID identifies an external user or a canister acting as a caller.
type PrincipalID string

// MessageID identifies an ingress message as assigned by the transport edge.
type MessageID string

// CallContextID is a per-canister, monotonically increasing identifier of an
// open inbound call. Ids are never reused within a canister's lifetime.
type CallContextID uint64

// CallbackID is a per-canister, monotonically increasing identifier of an
// outstanding outbound call. The sequence is independent from CallContextID.
type CallbackID uint64

// Time is a deterministic point in time expressed as nanoseconds since the
// UNIX epoch, supplied by the round as an explicit input. The zero value
// means "unset" and, for deadlines, "no deadline" (a guaranteed-response
// call).
type Time uint64

// NoDeadline marks a call without a deadline.
const NoDeadline Time = 0

func (t Time) IsZero() bool { return t == 0 }

// Before reports whether t is strictly earlier than other.
func (t Time) Before(other Time) bool { return t < other }

func (id CallContextID) String() string { return strconv.FormatUint(uint64(id), 10) }

func (id CallbackID) String() string { return strconv.FormatUint(uint64(id), 10) }
