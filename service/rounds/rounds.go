// Package rounds drives execution slices against canister state. The
// external scheduler decides which canister runs and with what budget; the
// driver pops tasks, hands them to the injected interpreter, applies
// outcomes and reconciles prepaid cycles against actual cost. It makes no
// scheduling decisions itself.
package rounds

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/replivm/canstate/logging"
	"github.com/replivm/canstate/metering"
	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
	"github.com/replivm/canstate/policy"
	"github.com/replivm/canstate/runtime/callcontext"
	"github.com/replivm/canstate/runtime/canister"
	"github.com/replivm/canstate/runtime/taskqueue"
	"github.com/replivm/canstate/service/event"
	"github.com/replivm/canstate/tracing"
)

// States resolves canister ids to their execution state. The root service
// implements it.
type States interface {
	LookupState(id model.CanisterID) (*canister.State, error)
}

// Config bounds a single slice.
type Config struct {
	// MaxTasksPerSlice caps how many queue tasks one slice may run.
	MaxTasksPerSlice int

	// DefaultBudget is the instruction allowance used when ExecuteSlice is
	// called with a zero budget.
	DefaultBudget uint64
}

// DefaultConfig returns the default driver configuration.
func DefaultConfig() Config {
	return Config{
		MaxTasksPerSlice: 32,
		DefaultBudget:    5_000_000,
	}
}

// TaskSettled is the event payload published when a queue task finishes a
// slice, one way or another.
type TaskSettled struct {
	Kind         taskqueue.Kind `json:"kind"`
	Outcome      OutcomeKind    `json:"outcome"`
	Instructions uint64         `json:"instructions"`
}

// CallbackExpired is the event payload published for every best-effort
// callback pruned at the end of a slice.
type CallbackExpired struct {
	CallbackID    model.CallbackID    `json:"callbackId"`
	CallContextID model.CallContextID `json:"callContextId"`
	Deadline      model.Time          `json:"deadline"`
}

// Report summarizes one slice.
type Report struct {
	TasksRun     int
	Instructions uint64
	Charged      cycles.Cycles
	Refunded     cycles.Cycles
	Paused       bool
	Trapped      int

	// ExpiredCallbacks lists pruned best-effort callbacks in ascending id
	// order; the scheduler owes each one a forced cleanup invocation.
	ExpiredCallbacks []model.CallbackID
}

// Driver executes slices. It is safe for use by a single scheduler
// goroutine; canister state is single-writer by contract.
type Driver struct {
	config      Config
	states      States
	interpreter Interpreter
	pricer      policy.Pricer
	events      *event.Service
	logger      *zap.Logger
}

// New creates a slice driver.
func New(opts ...Option) (*Driver, error) {
	d := &Driver{
		config: DefaultConfig(),
		pricer: &policy.Static{},
		logger: logging.Named("rounds"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.states == nil {
		return nil, fmt.Errorf("rounds: state resolver is required")
	}
	if d.interpreter == nil {
		return nil, fmt.Errorf("rounds: interpreter is required")
	}
	return d, nil
}

// ExecuteSlice runs queued tasks of one canister within the instruction
// budget, then prunes deadlined callbacks as of now.
func (d *Driver) ExecuteSlice(ctx context.Context, canisterID model.CanisterID, budget uint64, now model.Time) (Report, error) {
	ctx, span := tracing.StartSpan(ctx, "rounds.slice", "INTERNAL")
	span.WithAttributes(map[string]string{"canisterId": string(canisterID)})

	report := Report{}
	st, err := d.states.LookupState(canisterID)
	if err != nil {
		tracing.EndSpan(span, err)
		return report, err
	}
	if budget == 0 {
		budget = d.config.DefaultBudget
	}

	remaining := budget
	for report.TasksRun < d.config.MaxTasksPerSlice && remaining > 0 {
		task := st.Tasks.PopNext()
		if task == nil {
			break
		}
		outcome, err := d.interpreter.Execute(ctx, Invocation{
			CanisterID: canisterID,
			Task:       task,
			Input:      taskInput(task),
			Budget:     remaining,
			Now:        now,
		})
		if err != nil {
			d.recoverExecuting(st, task)
			tracing.EndSpan(span, err)
			return report, fmt.Errorf("rounds: interpreter failed on %s task: %w", task.Kind, err)
		}

		report.TasksRun++
		report.Instructions += outcome.Instructions
		if outcome.Instructions >= remaining {
			remaining = 0
		} else {
			remaining -= outcome.Instructions
		}
		metering.UpdateCtx(ctx, metering.Delta{
			TasksRun:     1,
			Instructions: outcome.Instructions,
		})

		if err := d.settleTask(ctx, st, task, outcome, &report); err != nil {
			tracing.EndSpan(span, err)
			return report, err
		}
		if outcome.Kind == OutcomePaused {
			// The slot owner keeps the canister's execution position; the
			// slice ends here.
			break
		}
	}

	if err := d.expireCallbacks(ctx, st, now, &report); err != nil {
		tracing.EndSpan(span, err)
		return report, err
	}
	tracing.EndSpan(span, nil)
	return report, nil
}

// ExecuteMessage runs a fresh inbound message inside an open call context.
// A paused outcome parks the continuation in the task queue slot; later
// slices resume it via ExecuteSlice.
func (d *Driver) ExecuteMessage(ctx context.Context, canisterID model.CanisterID, ctxID model.CallContextID, msg model.Message, budget uint64, now model.Time) (Report, error) {
	ctx, span := tracing.StartSpan(ctx, "rounds.message", "INTERNAL")
	span.WithAttributes(map[string]string{"canisterId": string(canisterID)})

	report := Report{}
	st, err := d.states.LookupState(canisterID)
	if err != nil {
		tracing.EndSpan(span, err)
		return report, err
	}
	if budget == 0 {
		budget = d.config.DefaultBudget
	}

	outcome, err := d.interpreter.Execute(ctx, Invocation{
		CanisterID:    canisterID,
		Input:         &msg,
		CallContextID: ctxID,
		Budget:        budget,
		Now:           now,
	})
	if err != nil {
		tracing.EndSpan(span, err)
		return report, fmt.Errorf("rounds: interpreter failed on message: %w", err)
	}

	report.Instructions = outcome.Instructions
	metering.UpdateCtx(ctx, metering.Delta{MessagesRun: 1, Instructions: outcome.Instructions})

	switch outcome.Kind {
	case OutcomePaused:
		cost := d.pricer.ExecutionCost(outcome.Instructions)
		if err := st.Ledger.Charge(cost, cycles.UseCaseInstructions); err != nil {
			tracing.EndSpan(span, err)
			return report, err
		}
		report.Charged = cost
		report.Paused = true
		metering.UpdateCtx(ctx, metering.Delta{Paused: 1, CyclesBurned: cost})
		if err := st.Calls.AddInstructions(ctxID, outcome.Instructions); err != nil {
			tracing.EndSpan(span, err)
			return report, err
		}
		cont := taskqueue.NewPausedExecution(outcome.Handle, msg, ctxID, cost)
		if err := st.Tasks.OnInterruptedMessage(cont); err != nil {
			tracing.EndSpan(span, err)
			return report, err
		}
	case OutcomeCompleted, OutcomeTrapped:
		cost := d.pricer.ExecutionCost(outcome.Instructions)
		if err := st.Ledger.Charge(cost, cycles.UseCaseInstructions); err != nil {
			tracing.EndSpan(span, err)
			return report, err
		}
		report.Charged = cost
		metering.UpdateCtx(ctx, metering.Delta{CyclesBurned: cost})
		if err := st.Calls.AddInstructions(ctxID, outcome.Instructions); err != nil {
			tracing.EndSpan(span, err)
			return report, err
		}
		if outcome.Kind == OutcomeTrapped {
			report.Trapped++
			metering.UpdateCtx(ctx, metering.Delta{Trapped: 1})
			d.logger.Warn("message execution trapped",
				zap.String("canisterId", string(canisterID)),
				zap.Uint64("callContextId", uint64(ctxID)),
				zap.String("trap", outcome.TrapMessage))
		}
		if outcome.Responded {
			if err := st.Calls.MarkResponded(ctxID); err != nil {
				tracing.EndSpan(span, err)
				return report, err
			}
			st.Calls.DeleteIfResponded(ctxID)
		}
	default:
		err := fmt.Errorf("rounds: interpreter returned unknown outcome %q", outcome.Kind)
		tracing.EndSpan(span, err)
		return report, err
	}

	if err := d.expireCallbacks(ctx, st, now, &report); err != nil {
		tracing.EndSpan(span, err)
		return report, err
	}
	tracing.EndSpan(span, nil)
	return report, nil
}

// settleTask applies a queue-task outcome: completion and trap reconcile
// prepaid cycles against actual cost and settle the owning call context,
// pause re-parks the continuation with the slice cost added to its prepaid
// amount.
func (d *Driver) settleTask(ctx context.Context, st *canister.State, task *taskqueue.Task, outcome Outcome, report *Report) error {
	actual := d.pricer.ExecutionCost(outcome.Instructions)

	switch outcome.Kind {
	case OutcomeCompleted, OutcomeTrapped:
		prepaid, err := st.Tasks.OnCompleted()
		if err != nil {
			return err
		}
		charged, refunded, err := reconcile(st, prepaid, actual)
		if err != nil {
			return err
		}
		report.Charged, _ = report.Charged.Add(charged)
		report.Refunded, _ = report.Refunded.Add(refunded)
		metering.UpdateCtx(ctx, metering.Delta{CyclesBurned: charged})
		if ctxID := task.ContextID(); ctxID != 0 {
			if err := st.Calls.AddInstructions(ctxID, outcome.Instructions); err != nil {
				return err
			}
			if outcome.Responded {
				if err := st.Calls.MarkResponded(ctxID); err != nil {
					return err
				}
				st.Calls.DeleteIfResponded(ctxID)
			}
		}
		if outcome.Kind == OutcomeTrapped {
			report.Trapped++
			metering.UpdateCtx(ctx, metering.Delta{Trapped: 1})
			d.logger.Warn("task execution trapped",
				zap.String("canisterId", string(st.ID)),
				zap.String("taskKind", string(task.Kind)),
				zap.String("trap", outcome.TrapMessage))
		}
		d.publishTaskSettled(ctx, st.ID, task.Kind, outcome)

	case OutcomePaused:
		if err := st.Ledger.Charge(actual, cycles.UseCaseInstructions); err != nil {
			return err
		}
		report.Charged, _ = report.Charged.Add(actual)
		report.Paused = true
		metering.UpdateCtx(ctx, metering.Delta{Paused: 1, CyclesBurned: actual})
		if ctxID := task.ContextID(); ctxID != 0 {
			if err := st.Calls.AddInstructions(ctxID, outcome.Instructions); err != nil {
				return err
			}
		}
		prepaid, err := task.PrepaidCycles().Add(actual)
		if err != nil {
			return err
		}
		cont, err := continuationFor(task, outcome.Handle, prepaid)
		if err != nil {
			return err
		}
		if err := st.Tasks.OnInterrupted(cont); err != nil {
			return err
		}
		d.publishTaskSettled(ctx, st.ID, task.Kind, outcome)

	default:
		return fmt.Errorf("rounds: interpreter returned unknown outcome %q", outcome.Kind)
	}
	return nil
}

// reconcile settles a completed execution's prepaid cycles against its
// actual cost: the shortfall is charged, the excess refunded.
func reconcile(st *canister.State, prepaid, actual cycles.Cycles) (charged, refunded cycles.Cycles, err error) {
	switch actual.Cmp(prepaid) {
	case 1:
		diff, derr := actual.Sub(prepaid)
		if derr != nil {
			return cycles.Zero(), cycles.Zero(), derr
		}
		if cerr := st.Ledger.Charge(diff, cycles.UseCaseInstructions); cerr != nil {
			return cycles.Zero(), cycles.Zero(), cerr
		}
		return diff, cycles.Zero(), nil
	case -1:
		diff, derr := prepaid.Sub(actual)
		if derr != nil {
			return cycles.Zero(), cycles.Zero(), derr
		}
		if rerr := st.Ledger.Refund(diff, cycles.UseCaseInstructions); rerr != nil {
			return cycles.Zero(), cycles.Zero(), rerr
		}
		return cycles.Zero(), diff, nil
	}
	return cycles.Zero(), cycles.Zero(), nil
}

// expireCallbacks prunes deadlined best-effort callbacks, returns what each
// one was charged for up front, and publishes an event per pruned entry.
func (d *Driver) expireCallbacks(ctx context.Context, st *canister.State, now model.Time, report *Report) error {
	expired := st.Calls.ExpireDeadlinedCallbacks(now)
	for _, cb := range expired {
		refunded, err := refundExpired(st, cb)
		if err != nil {
			return err
		}
		report.Refunded, _ = report.Refunded.Add(refunded)
		report.ExpiredCallbacks = append(report.ExpiredCallbacks, cb.ID)
		d.logger.Info("best-effort callback expired",
			zap.String("canisterId", string(st.ID)),
			zap.Uint64("callbackId", uint64(cb.ID)))
		if d.events != nil {
			_ = event.PublisherOf[CallbackExpired](d.events).Publish(ctx, event.NewEvent(&event.Context{
				CanisterID:    st.ID,
				EventType:     event.TypeCallbackExpired,
				CallContextID: cb.CallContextID,
				CallbackID:    cb.ID,
			}, CallbackExpired{
				CallbackID:    cb.ID,
				CallContextID: cb.CallContextID,
				Deadline:      cb.Deadline,
			}))
		}
	}
	return nil
}

// refundExpired returns the prepaid amounts of a callback that will never
// resolve: the response was neither executed nor transmitted, and the cycles
// attached to the call come back with the synthetic timeout reject.
func refundExpired(st *canister.State, cb *callcontext.Callback) (cycles.Cycles, error) {
	refunded := cycles.Zero()
	if !cb.PrepaidExecution.IsZero() {
		if err := st.Ledger.Refund(cb.PrepaidExecution, cycles.UseCaseInstructions); err != nil {
			return refunded, err
		}
		refunded, _ = refunded.Add(cb.PrepaidExecution)
	}
	if !cb.PrepaidTransmission.IsZero() {
		if err := st.Ledger.Refund(cb.PrepaidTransmission, cycles.UseCaseRequestTransmission); err != nil {
			return refunded, err
		}
		refunded, _ = refunded.Add(cb.PrepaidTransmission)
	}
	if !cb.CyclesSent.IsZero() {
		if err := st.Ledger.Deposit(cb.CyclesSent); err != nil {
			return refunded, err
		}
	}
	return refunded, nil
}

func (d *Driver) publishTaskSettled(ctx context.Context, id model.CanisterID, kind taskqueue.Kind, outcome Outcome) {
	if d.events == nil {
		return
	}
	eventType := event.TypeTaskCompleted
	if outcome.Kind == OutcomePaused {
		eventType = event.TypeTaskInterrupted
	}
	_ = event.PublisherOf[TaskSettled](d.events).Publish(ctx, event.NewEvent(&event.Context{
		CanisterID: id,
		EventType:  eventType,
	}, TaskSettled{
		Kind:         kind,
		Outcome:      outcome.Kind,
		Instructions: outcome.Instructions,
	}))
}

// recoverExecuting puts the queue back into a settled state after an
// interpreter infrastructure failure: continuations re-park in aborted
// form, plain system tasks are dropped.
func (d *Driver) recoverExecuting(st *canister.State, task *taskqueue.Task) {
	if task.IsContinuation() {
		if aborted, err := task.AbortContinuation(); err == nil {
			if err := st.Tasks.OnInterrupted(aborted); err == nil {
				return
			}
		}
	}
	_, _ = st.Tasks.OnCompleted()
}

// taskInput derives the message a task executes, when it has one.
// Install-code continuations carry a request rather than a message.
func taskInput(task *taskqueue.Task) *model.Message {
	switch task.Kind {
	case taskqueue.KindHeartbeat:
		msg := model.NewSystemTaskMessage(model.SystemTaskHeartbeat)
		return &msg
	case taskqueue.KindGlobalTimer:
		msg := model.NewSystemTaskMessage(model.SystemTaskGlobalTimer)
		return &msg
	case taskqueue.KindOnLowWasmMemory:
		msg := model.NewSystemTaskMessage(model.SystemTaskOnLowWasmMemory)
		return &msg
	case taskqueue.KindPausedExecution:
		return &task.Paused.Input
	case taskqueue.KindAbortedExecution:
		return &task.Aborted.Input
	}
	return nil
}

// continuationFor wraps suspended interpreter state in the continuation
// task matching what was interrupted.
func continuationFor(task *taskqueue.Task, handle uint64, prepaid cycles.Cycles) (*taskqueue.Task, error) {
	switch task.Kind {
	case taskqueue.KindPausedExecution:
		return taskqueue.NewPausedExecution(handle, task.Paused.Input, task.Paused.CallContextID, prepaid), nil
	case taskqueue.KindAbortedExecution:
		return taskqueue.NewPausedExecution(handle, task.Aborted.Input, task.Aborted.CallContextID, prepaid), nil
	case taskqueue.KindPausedInstallCode:
		return taskqueue.NewPausedInstallCode(handle, task.PausedInstall.Request, prepaid), nil
	case taskqueue.KindAbortedInstallCode:
		return taskqueue.NewPausedInstallCode(handle, task.AbortedInstall.Request, prepaid), nil
	case taskqueue.KindHeartbeat, taskqueue.KindGlobalTimer, taskqueue.KindOnLowWasmMemory:
		return taskqueue.NewPausedExecution(handle, *taskInput(task), 0, prepaid), nil
	}
	return nil, fmt.Errorf("rounds: task %q cannot be suspended", task.Kind)
}
