package taskqueue

import (
	"fmt"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
)

// Kind discriminates the Task sum type.
type Kind string

const (
	KindHeartbeat       Kind = "heartbeat"
	KindGlobalTimer     Kind = "global-timer"
	KindOnLowWasmMemory Kind = "on-low-wasm-memory"

	KindPausedExecution    Kind = "paused-execution"
	KindAbortedExecution   Kind = "aborted-execution"
	KindPausedInstallCode  Kind = "paused-install-code"
	KindAbortedInstallCode Kind = "aborted-install-code"
)

// InstallMode selects how code is deployed onto the canister.
type InstallMode string

const (
	InstallModeInstall   InstallMode = "install"
	InstallModeReinstall InstallMode = "reinstall"
	InstallModeUpgrade   InstallMode = "upgrade"
)

// InstallCodeRequest is the payload of an install/reinstall/upgrade that may
// span multiple rounds under deterministic time slicing.
type InstallCodeRequest struct {
	Mode       InstallMode       `json:"mode"`
	Sender     model.PrincipalID `json:"sender"`
	WasmModule []byte            `json:"wasmModule,omitempty"`
	Arg        []byte            `json:"arg,omitempty"`

	// CallContextID routes the eventual response; zero when the install was
	// triggered without an open call (e.g. by provisioning tooling).
	CallContextID model.CallContextID `json:"callContextId,omitempty"`
}

// PausedExecution is a mid-message continuation still held by the
// interpreter. Handle identifies the suspended interpreter state and is
// meaningless outside the current process lifetime, which is why paused
// tasks must be aborted before a snapshot is taken.
type PausedExecution struct {
	Handle uint64        `json:"-"`
	Input  model.Message `json:"input"`

	// CallContextID routes the terminal response once the execution
	// completes; zero for system-task executions that own no context.
	CallContextID model.CallContextID `json:"callContextId,omitempty"`

	Prepaid cycles.Cycles `json:"prepaid"`
}

// AbortedExecution carries the original input of an execution that was
// interrupted and rolled back, plus the cycles already charged for it that
// must not be charged again on retry.
type AbortedExecution struct {
	Input         model.Message       `json:"input"`
	CallContextID model.CallContextID `json:"callContextId,omitempty"`
	Prepaid       cycles.Cycles       `json:"prepaid"`
}

// PausedInstallCode is the install-code analogue of PausedExecution.
type PausedInstallCode struct {
	Handle  uint64             `json:"-"`
	Request InstallCodeRequest `json:"request"`
	Prepaid cycles.Cycles      `json:"prepaid"`
}

// AbortedInstallCode is the install-code analogue of AbortedExecution.
type AbortedInstallCode struct {
	Request InstallCodeRequest `json:"request"`
	Prepaid cycles.Cycles      `json:"prepaid"`
}

// Task is the unit of schedulable work. Plain system-task kinds carry no
// payload; continuation kinds carry exactly the payload matching Kind.
type Task struct {
	Kind Kind `json:"kind"`

	Paused         *PausedExecution    `json:"paused,omitempty"`
	Aborted        *AbortedExecution   `json:"aborted,omitempty"`
	PausedInstall  *PausedInstallCode  `json:"pausedInstall,omitempty"`
	AbortedInstall *AbortedInstallCode `json:"abortedInstall,omitempty"`
}

// NewSystemTask builds a payloadless system task.
func NewSystemTask(kind Kind) (*Task, error) {
	switch kind {
	case KindHeartbeat, KindGlobalTimer, KindOnLowWasmMemory:
		return &Task{Kind: kind}, nil
	default:
		return nil, fmt.Errorf("taskqueue: %q is not a system task kind", kind)
	}
}

// NewPausedExecution wraps a suspended message execution.
func NewPausedExecution(handle uint64, input model.Message, ctxID model.CallContextID, prepaid cycles.Cycles) *Task {
	return &Task{Kind: KindPausedExecution, Paused: &PausedExecution{Handle: handle, Input: input, CallContextID: ctxID, Prepaid: prepaid}}
}

// NewAbortedExecution wraps a rolled-back message execution for retry.
func NewAbortedExecution(input model.Message, ctxID model.CallContextID, prepaid cycles.Cycles) *Task {
	return &Task{Kind: KindAbortedExecution, Aborted: &AbortedExecution{Input: input, CallContextID: ctxID, Prepaid: prepaid}}
}

// NewPausedInstallCode wraps a suspended install-code execution.
func NewPausedInstallCode(handle uint64, req InstallCodeRequest, prepaid cycles.Cycles) *Task {
	return &Task{Kind: KindPausedInstallCode, PausedInstall: &PausedInstallCode{Handle: handle, Request: req, Prepaid: prepaid}}
}

// NewAbortedInstallCode wraps a rolled-back install-code execution.
func NewAbortedInstallCode(req InstallCodeRequest, prepaid cycles.Cycles) *Task {
	return &Task{Kind: KindAbortedInstallCode, AbortedInstall: &AbortedInstallCode{Request: req, Prepaid: prepaid}}
}

// IsContinuation reports whether the task belongs in the
// paused-or-aborted slot.
func (t *Task) IsContinuation() bool {
	switch t.Kind {
	case KindPausedExecution, KindAbortedExecution, KindPausedInstallCode, KindAbortedInstallCode:
		return true
	}
	return false
}

// IsPaused reports whether the task still references live interpreter state.
func (t *Task) IsPaused() bool {
	return t.Kind == KindPausedExecution || t.Kind == KindPausedInstallCode
}

// ContextID returns the call context the continuation responds on; zero for
// plain system tasks and for continuations that own no context.
func (t *Task) ContextID() model.CallContextID {
	switch t.Kind {
	case KindPausedExecution:
		return t.Paused.CallContextID
	case KindAbortedExecution:
		return t.Aborted.CallContextID
	case KindPausedInstallCode:
		return t.PausedInstall.Request.CallContextID
	case KindAbortedInstallCode:
		return t.AbortedInstall.Request.CallContextID
	}
	return 0
}

// Prepaid returns the cycles already charged for the continuation; zero for
// plain system tasks.
func (t *Task) PrepaidCycles() cycles.Cycles {
	switch t.Kind {
	case KindPausedExecution:
		return t.Paused.Prepaid
	case KindAbortedExecution:
		return t.Aborted.Prepaid
	case KindPausedInstallCode:
		return t.PausedInstall.Prepaid
	case KindAbortedInstallCode:
		return t.AbortedInstall.Prepaid
	}
	return cycles.Zero()
}

// Abort converts a paused continuation into its aborted form, dropping the
// interpreter handle while keeping the original input and prepaid cycles.
// Aborted tasks pass through unchanged.
func (t *Task) AbortContinuation() (*Task, error) {
	switch t.Kind {
	case KindPausedExecution:
		return NewAbortedExecution(t.Paused.Input, t.Paused.CallContextID, t.Paused.Prepaid), nil
	case KindPausedInstallCode:
		return NewAbortedInstallCode(t.PausedInstall.Request, t.PausedInstall.Prepaid), nil
	case KindAbortedExecution, KindAbortedInstallCode:
		return t, nil
	default:
		return nil, fmt.Errorf("taskqueue: task %q is not a continuation", t.Kind)
	}
}

// Validate checks the kind/payload pairing.
func (t *Task) Validate() error {
	switch t.Kind {
	case KindHeartbeat, KindGlobalTimer, KindOnLowWasmMemory:
		if t.Paused != nil || t.Aborted != nil || t.PausedInstall != nil || t.AbortedInstall != nil {
			return fmt.Errorf("taskqueue: system task %q carries no payload", t.Kind)
		}
	case KindPausedExecution:
		if t.Paused == nil {
			return fmt.Errorf("taskqueue: task %q requires the paused payload", t.Kind)
		}
	case KindAbortedExecution:
		if t.Aborted == nil {
			return fmt.Errorf("taskqueue: task %q requires the aborted payload", t.Kind)
		}
	case KindPausedInstallCode:
		if t.PausedInstall == nil {
			return fmt.Errorf("taskqueue: task %q requires the pausedInstall payload", t.Kind)
		}
	case KindAbortedInstallCode:
		if t.AbortedInstall == nil {
			return fmt.Errorf("taskqueue: task %q requires the abortedInstall payload", t.Kind)
		}
	default:
		return fmt.Errorf("taskqueue: unknown task kind %q", t.Kind)
	}
	return nil
}
