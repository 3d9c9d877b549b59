package model

import (
	"fmt"

	"github.com/replivm/canstate/model/cycles"
)

// MessageKind discriminates the inbound message envelope.
type MessageKind string

const (
	MessageIngress    MessageKind = "ingress"
	MessageRequest    MessageKind = "request"
	MessageResponse   MessageKind = "response"
	MessageSystemTask MessageKind = "system-task"
)

// RejectCode classifies a reject response.
type RejectCode uint8

const (
	RejectSysFatal           RejectCode = 1
	RejectSysTransient       RejectCode = 2
	RejectDestinationInvalid RejectCode = 3
	RejectCanisterReject     RejectCode = 4
	RejectCanisterError      RejectCode = 5
	RejectSysUnknown         RejectCode = 6
)

// Ingress is an external user message addressed to a canister method.
type Ingress struct {
	MessageID MessageID   `json:"messageId"`
	Sender    PrincipalID `json:"sender"`
	Method    string      `json:"method"`
	Payload   []byte      `json:"payload,omitempty"`
	Expiry    Time        `json:"expiry,omitempty"`
}

// Request is an inter-canister call addressed to this canister. The
// SenderCallbackID names the callback registered on the caller's side that
// the eventual response must settle. A non-zero Deadline makes the call
// best-effort.
type Request struct {
	Sender           CanisterID    `json:"sender"`
	Receiver         CanisterID    `json:"receiver"`
	SenderCallbackID CallbackID    `json:"senderCallbackId"`
	Method           string        `json:"method"`
	Payload          []byte        `json:"payload,omitempty"`
	Cycles           cycles.Cycles `json:"cycles"`
	Deadline         Time          `json:"deadline,omitempty"`
}

// Reject carries a reject response body.
type Reject struct {
	Code    RejectCode `json:"code"`
	Message string     `json:"message"`
}

// Response settles one of this canister's outstanding callbacks. Exactly one
// of Reply and Reject is set.
type Response struct {
	Originator CanisterID    `json:"originator"`
	Respondent CanisterID    `json:"respondent"`
	CallbackID CallbackID    `json:"callbackId"`
	Reply      []byte        `json:"reply,omitempty"`
	Reject     *Reject       `json:"reject,omitempty"`
	Refund     cycles.Cycles `json:"refund"`
	Deadline   Time          `json:"deadline,omitempty"`
}

// IsReject reports whether the response is a reject.
func (r *Response) IsReject() bool { return r.Reject != nil }

// SystemTaskKind names schedulable canister system work.
type SystemTaskKind string

const (
	SystemTaskHeartbeat       SystemTaskKind = "heartbeat"
	SystemTaskGlobalTimer     SystemTaskKind = "global-timer"
	SystemTaskOnLowWasmMemory SystemTaskKind = "on-low-wasm-memory"
)

// Message is the tagged union of everything the induction layer can deliver
// to a canister. Exactly one payload matching Kind must be present.
type Message struct {
	Kind       MessageKind    `json:"kind"`
	Ingress    *Ingress       `json:"ingress,omitempty"`
	Request    *Request       `json:"request,omitempty"`
	Response   *Response      `json:"response,omitempty"`
	SystemTask SystemTaskKind `json:"systemTask,omitempty"`
}

// NewIngressMessage wraps an ingress payload.
func NewIngressMessage(in *Ingress) Message {
	return Message{Kind: MessageIngress, Ingress: in}
}

// NewRequestMessage wraps an inter-canister request.
func NewRequestMessage(req *Request) Message {
	return Message{Kind: MessageRequest, Request: req}
}

// NewResponseMessage wraps a response to one of our callbacks.
func NewResponseMessage(resp *Response) Message {
	return Message{Kind: MessageResponse, Response: resp}
}

// NewSystemTaskMessage wraps a system-task trigger.
func NewSystemTaskMessage(kind SystemTaskKind) Message {
	return Message{Kind: MessageSystemTask, SystemTask: kind}
}

// Validate checks that exactly the payload matching Kind is set.
func (m Message) Validate() error {
	switch m.Kind {
	case MessageIngress:
		if m.Ingress == nil {
			return fmt.Errorf("message: kind %v requires the ingress payload", m.Kind)
		}
	case MessageRequest:
		if m.Request == nil {
			return fmt.Errorf("message: kind %v requires the request payload", m.Kind)
		}
	case MessageResponse:
		if m.Response == nil {
			return fmt.Errorf("message: kind %v requires the response payload", m.Kind)
		}
		if (m.Response.Reply != nil) == (m.Response.Reject != nil) {
			return fmt.Errorf("message: response must carry exactly one of reply and reject")
		}
	case MessageSystemTask:
		switch m.SystemTask {
		case SystemTaskHeartbeat, SystemTaskGlobalTimer, SystemTaskOnLowWasmMemory:
		default:
			return fmt.Errorf("message: unknown system task %q", m.SystemTask)
		}
	default:
		return fmt.Errorf("message: unknown kind %q", m.Kind)
	}
	return nil
}

// Origin derives the call origin that opening a call context for this
// message uses. Responses have no origin: they continue an existing call.
func (m Message) Origin() (Origin, error) {
	switch m.Kind {
	case MessageIngress:
		return NewIngressOrigin(m.Ingress.Sender, m.Ingress.MessageID), nil
	case MessageRequest:
		return NewCanisterCallOrigin(m.Request.Sender, m.Request.SenderCallbackID, m.Request.Deadline), nil
	case MessageSystemTask:
		return NewSystemTaskOrigin(), nil
	default:
		return Origin{}, fmt.Errorf("message: kind %v does not open a call context", m.Kind)
	}
}
