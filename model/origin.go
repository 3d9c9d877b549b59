package model

import "fmt"

// OriginKind discriminates the Origin sum type.
type OriginKind string

const (
	// OriginIngress marks a call opened by an external ingress message.
	OriginIngress OriginKind = "ingress"
	// OriginCanisterCall marks an inter-canister update or query call; the
	// caller expects a response routed back through its callback.
	OriginCanisterCall OriginKind = "canister-call"
	// OriginQuery marks a plain (non-replicated) query call.
	OriginQuery OriginKind = "query"
	// OriginSystemTask marks heartbeat/global-timer work; it has no caller
	// and never produces an outbound response.
	OriginSystemTask OriginKind = "system-task"
)

// IngressOrigin carries the identity of an external sender.
type IngressOrigin struct {
	Sender    PrincipalID `json:"sender"`
	MessageID MessageID   `json:"messageId"`
}

// CanisterCallOrigin carries the caller canister and the callback id the
// response must be routed to on the caller's side. A non-zero Deadline marks
// the inbound call as best-effort.
type CanisterCallOrigin struct {
	Caller     CanisterID `json:"caller"`
	CallbackID CallbackID `json:"callbackId"`
	Deadline   Time       `json:"deadline,omitempty"`
}

// QueryOrigin carries the principal issuing a plain query.
type QueryOrigin struct {
	Caller PrincipalID `json:"caller"`
}

// Origin is the tagged union of the four call-origin variants. Exactly one
// payload matching Kind must be present; SystemTask has no payload.
type Origin struct {
	Kind         OriginKind          `json:"kind"`
	Ingress      *IngressOrigin      `json:"ingress,omitempty"`
	CanisterCall *CanisterCallOrigin `json:"canisterCall,omitempty"`
	Query        *QueryOrigin        `json:"query,omitempty"`
}

// NewIngressOrigin builds an ingress origin.
func NewIngressOrigin(sender PrincipalID, messageID MessageID) Origin {
	return Origin{Kind: OriginIngress, Ingress: &IngressOrigin{Sender: sender, MessageID: messageID}}
}

// NewCanisterCallOrigin builds an inter-canister call origin.
func NewCanisterCallOrigin(caller CanisterID, callbackID CallbackID, deadline Time) Origin {
	return Origin{Kind: OriginCanisterCall, CanisterCall: &CanisterCallOrigin{
		Caller: caller, CallbackID: callbackID, Deadline: deadline}}
}

// NewQueryOrigin builds a plain query origin.
func NewQueryOrigin(caller PrincipalID) Origin {
	return Origin{Kind: OriginQuery, Query: &QueryOrigin{Caller: caller}}
}

// NewSystemTaskOrigin builds a callerless system-task origin.
func NewSystemTaskOrigin() Origin {
	return Origin{Kind: OriginSystemTask}
}

// Validate checks that exactly the payload matching Kind is set.
func (o Origin) Validate() error {
	count := 0
	if o.Ingress != nil {
		count++
	}
	if o.CanisterCall != nil {
		count++
	}
	if o.Query != nil {
		count++
	}
	switch o.Kind {
	case OriginIngress:
		if o.Ingress == nil || count != 1 {
			return fmt.Errorf("origin: kind %v requires exactly the ingress payload", o.Kind)
		}
	case OriginCanisterCall:
		if o.CanisterCall == nil || count != 1 {
			return fmt.Errorf("origin: kind %v requires exactly the canisterCall payload", o.Kind)
		}
	case OriginQuery:
		if o.Query == nil || count != 1 {
			return fmt.Errorf("origin: kind %v requires exactly the query payload", o.Kind)
		}
	case OriginSystemTask:
		if count != 0 {
			return fmt.Errorf("origin: kind %v carries no payload", o.Kind)
		}
	default:
		return fmt.Errorf("origin: unknown kind %q", o.Kind)
	}
	return nil
}

// Deadline returns the best-effort deadline of the origin, or NoDeadline.
func (o Origin) DeadlineOrZero() Time {
	if o.Kind == OriginCanisterCall && o.CanisterCall != nil {
		return o.CanisterCall.Deadline
	}
	return NoDeadline
}
