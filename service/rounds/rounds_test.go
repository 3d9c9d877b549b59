package rounds

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
	"github.com/replivm/canstate/policy"
	"github.com/replivm/canstate/runtime/callcontext"
	"github.com/replivm/canstate/runtime/canister"
	"github.com/replivm/canstate/runtime/taskqueue"
)

type stateMap map[model.CanisterID]*canister.State

func (m stateMap) LookupState(id model.CanisterID) (*canister.State, error) {
	st, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("unknown canister %s", id)
	}
	return st, nil
}

type scriptedInterpreter struct {
	outcomes []Outcome
	calls    []Invocation
	err      error
}

func (s *scriptedInterpreter) Execute(_ context.Context, inv Invocation) (Outcome, error) {
	s.calls = append(s.calls, inv)
	if s.err != nil {
		return Outcome{}, s.err
	}
	i := len(s.calls) - 1
	if i >= len(s.outcomes) {
		return Outcome{Kind: OutcomeCompleted}, nil
	}
	return s.outcomes[i], nil
}

func newDriver(t *testing.T, states stateMap, interp Interpreter) *Driver {
	t.Helper()
	driver, err := New(
		WithStates(states),
		WithInterpreter(interp),
		WithPricer(&policy.Static{PerInstruction: 1}),
	)
	require.NoError(t, err)
	return driver
}

func TestExecuteSlice_CompletedTaskChargesActualCost(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	require.NoError(t, st.Tasks.EnqueueSystemTask(taskqueue.KindHeartbeat))

	interp := &scriptedInterpreter{outcomes: []Outcome{
		{Kind: OutcomeCompleted, Instructions: 700},
	}}
	driver := newDriver(t, stateMap{"canister-1": st}, interp)

	report, err := driver.ExecuteSlice(context.Background(), "canister-1", 10_000, model.Time(1))
	require.NoError(t, err)

	assert.Equal(t, 1, report.TasksRun)
	assert.Equal(t, uint64(700), report.Instructions)
	assert.True(t, report.Charged.Equal(cycles.New(700)))
	assert.True(t, st.Ledger.Balance().Equal(cycles.New(9_300)))
	assert.True(t, st.Ledger.Consumed(cycles.UseCaseInstructions).Equal(cycles.New(700)))
	assert.Equal(t, 0, st.Tasks.Len())
}

func TestExecuteSlice_PauseThenResumeRefundsExcessPrepaid(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	require.NoError(t, st.Tasks.EnqueueSystemTask(taskqueue.KindHeartbeat))

	interp := &scriptedInterpreter{outcomes: []Outcome{
		{Kind: OutcomePaused, Instructions: 1_000, Handle: 42},
		{Kind: OutcomeCompleted, Instructions: 700},
	}}
	driver := newDriver(t, stateMap{"canister-1": st}, interp)

	report, err := driver.ExecuteSlice(context.Background(), "canister-1", 10_000, model.Time(1))
	require.NoError(t, err)
	assert.True(t, report.Paused)
	assert.True(t, report.Charged.Equal(cycles.New(1_000)))
	require.True(t, st.Tasks.HasPausedOrAborted())
	assert.True(t, st.Tasks.PausedOrAborted().PrepaidCycles().Equal(cycles.New(1_000)))

	// The resumed run is cheaper than what was prepaid; the difference
	// comes back.
	report, err = driver.ExecuteSlice(context.Background(), "canister-1", 10_000, model.Time(2))
	require.NoError(t, err)
	assert.True(t, report.Refunded.Equal(cycles.New(300)))
	assert.False(t, st.Tasks.HasPausedOrAborted())

	assert.True(t, st.Ledger.Balance().Equal(cycles.New(9_300)))
	assert.True(t, st.Ledger.Consumed(cycles.UseCaseInstructions).Equal(cycles.New(700)))

	// The resumed invocation carried the suspended continuation.
	require.Len(t, interp.calls, 2)
	require.NotNil(t, interp.calls[1].Task)
	assert.Equal(t, taskqueue.KindPausedExecution, interp.calls[1].Task.Kind)
	assert.Equal(t, uint64(42), interp.calls[1].Task.Paused.Handle)
}

func TestExecuteSlice_StopsAtBudget(t *testing.T) {
	st := canister.New("canister-1", cycles.New(100_000), canister.Config{})
	require.NoError(t, st.Tasks.EnqueueSystemTask(taskqueue.KindHeartbeat))
	require.NoError(t, st.Tasks.EnqueueSystemTask(taskqueue.KindGlobalTimer))

	interp := &scriptedInterpreter{outcomes: []Outcome{
		{Kind: OutcomeCompleted, Instructions: 1_000},
		{Kind: OutcomeCompleted, Instructions: 1_000},
	}}
	driver := newDriver(t, stateMap{"canister-1": st}, interp)

	report, err := driver.ExecuteSlice(context.Background(), "canister-1", 1_000, model.Time(1))
	require.NoError(t, err)

	assert.Equal(t, 1, report.TasksRun)
	assert.Equal(t, 1, st.Tasks.Len())
}

func TestExecuteSlice_TrappedTaskStillPaysForInstructions(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	require.NoError(t, st.Tasks.EnqueueSystemTask(taskqueue.KindHeartbeat))

	interp := &scriptedInterpreter{outcomes: []Outcome{
		{Kind: OutcomeTrapped, Instructions: 200, TrapMessage: "unreachable"},
	}}
	driver := newDriver(t, stateMap{"canister-1": st}, interp)

	report, err := driver.ExecuteSlice(context.Background(), "canister-1", 10_000, model.Time(1))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Trapped)
	assert.True(t, st.Ledger.Balance().Equal(cycles.New(9_800)))
}

func TestExecuteSlice_ResumedMessageClosesCallContext(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	origin := model.NewIngressOrigin("user-1", "msg-1")
	ctxID, err := st.Calls.OpenCallContext(origin, cycles.Zero())
	require.NoError(t, err)

	msg := model.NewIngressMessage(&model.Ingress{MessageID: "msg-1", Sender: "user-1", Method: "work"})
	interp := &scriptedInterpreter{outcomes: []Outcome{
		{Kind: OutcomePaused, Instructions: 1_000, Handle: 5},
		{Kind: OutcomeCompleted, Instructions: 700, Responded: true},
	}}
	driver := newDriver(t, stateMap{"canister-1": st}, interp)

	_, err = driver.ExecuteMessage(context.Background(), "canister-1", ctxID, msg, 5_000, model.Time(1))
	require.NoError(t, err)
	cc := st.Calls.CallContext(ctxID)
	require.NotNil(t, cc)
	assert.Equal(t, uint64(1_000), cc.InstructionsExecuted)

	// The resumed run responds; the context must close even though the
	// terminal response came out of a queue-task continuation.
	_, err = driver.ExecuteSlice(context.Background(), "canister-1", 5_000, model.Time(2))
	require.NoError(t, err)
	assert.Nil(t, st.Calls.CallContext(ctxID))
	assert.Equal(t, 0, st.Calls.Stats().OpenCallContexts)
	assert.True(t, st.Ledger.Balance().Equal(cycles.New(9_300)))
}

func TestExecuteSlice_ExpiredCallbackReturnsPrepaid(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	origin := model.NewIngressOrigin("user-1", "msg-1")
	ctxID, err := st.Calls.OpenCallContext(origin, cycles.Zero())
	require.NoError(t, err)

	// Mirror what callback registration charges up front.
	require.NoError(t, st.Ledger.Charge(cycles.New(500), cycles.UseCaseInstructions))
	require.NoError(t, st.Ledger.Charge(cycles.New(200), cycles.UseCaseRequestTransmission))
	require.NoError(t, st.Ledger.Withdraw(cycles.New(100)))
	_, err = st.Calls.RegisterCallback(ctxID, callcontext.CallbackSpec{
		Respondent:          "canister-2",
		CyclesSent:          cycles.New(100),
		PrepaidExecution:    cycles.New(500),
		PrepaidTransmission: cycles.New(200),
		Deadline:            model.Time(5),
	})
	require.NoError(t, err)
	require.True(t, st.Ledger.Balance().Equal(cycles.New(9_200)))

	driver := newDriver(t, stateMap{"canister-1": st}, &scriptedInterpreter{})
	report, err := driver.ExecuteSlice(context.Background(), "canister-1", 1_000, model.Time(10))
	require.NoError(t, err)

	require.Len(t, report.ExpiredCallbacks, 1)
	assert.True(t, report.Refunded.Equal(cycles.New(700)))
	assert.True(t, st.Ledger.Balance().Equal(cycles.New(10_000)))
	assert.True(t, st.Ledger.Consumed(cycles.UseCaseInstructions).IsZero())
	assert.True(t, st.Ledger.Consumed(cycles.UseCaseRequestTransmission).IsZero())
}

func TestExecuteSlice_ExpiresDeadlinedCallbacks(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	origin := model.NewIngressOrigin("user-1", "msg-1")
	ctxID, err := st.Calls.OpenCallContext(origin, cycles.Zero())
	require.NoError(t, err)
	cbID, err := st.Calls.RegisterCallback(ctxID, callcontext.CallbackSpec{
		Respondent: "canister-2",
		Deadline:   model.Time(5),
	})
	require.NoError(t, err)

	driver := newDriver(t, stateMap{"canister-1": st}, &scriptedInterpreter{})

	report, err := driver.ExecuteSlice(context.Background(), "canister-1", 1_000, model.Time(10))
	require.NoError(t, err)

	assert.Equal(t, []model.CallbackID{cbID}, report.ExpiredCallbacks)
	assert.Nil(t, st.Calls.Callback(cbID))
}

func TestExecuteMessage_PausedParksContinuationInSlot(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	origin := model.NewIngressOrigin("user-1", "msg-1")
	ctxID, err := st.Calls.OpenCallContext(origin, cycles.Zero())
	require.NoError(t, err)

	msg := model.NewIngressMessage(&model.Ingress{MessageID: "msg-1", Sender: "user-1", Method: "work"})
	interp := &scriptedInterpreter{outcomes: []Outcome{
		{Kind: OutcomePaused, Instructions: 400, Handle: 7},
	}}
	driver := newDriver(t, stateMap{"canister-1": st}, interp)

	report, err := driver.ExecuteMessage(context.Background(), "canister-1", ctxID, msg, 1_000, model.Time(1))
	require.NoError(t, err)

	assert.True(t, report.Paused)
	require.True(t, st.Tasks.HasPausedOrAborted())
	cont := st.Tasks.PausedOrAborted()
	assert.Equal(t, taskqueue.KindPausedExecution, cont.Kind)
	assert.True(t, cont.PrepaidCycles().Equal(cycles.New(400)))
}

func TestExecuteMessage_RespondedClosesCallContext(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	origin := model.NewIngressOrigin("user-1", "msg-1")
	ctxID, err := st.Calls.OpenCallContext(origin, cycles.Zero())
	require.NoError(t, err)

	msg := model.NewIngressMessage(&model.Ingress{MessageID: "msg-1", Sender: "user-1", Method: "work"})
	interp := &scriptedInterpreter{outcomes: []Outcome{
		{Kind: OutcomeCompleted, Instructions: 100, Responded: true},
	}}
	driver := newDriver(t, stateMap{"canister-1": st}, interp)

	_, err = driver.ExecuteMessage(context.Background(), "canister-1", ctxID, msg, 1_000, model.Time(1))
	require.NoError(t, err)

	assert.Nil(t, st.Calls.CallContext(ctxID))
}

func TestExecuteSlice_InterpreterFailureReparksContinuationAborted(t *testing.T) {
	st := canister.New("canister-1", cycles.New(10_000), canister.Config{})
	msg := model.NewSystemTaskMessage(model.SystemTaskHeartbeat)
	require.NoError(t, st.Tasks.OnInterruptedMessage(taskqueue.NewPausedExecution(9, msg, 0, cycles.New(500))))

	interp := &scriptedInterpreter{err: fmt.Errorf("sandbox gone")}
	driver := newDriver(t, stateMap{"canister-1": st}, interp)

	_, err := driver.ExecuteSlice(context.Background(), "canister-1", 1_000, model.Time(1))
	require.Error(t, err)

	require.True(t, st.Tasks.HasPausedOrAborted())
	cont := st.Tasks.PausedOrAborted()
	assert.Equal(t, taskqueue.KindAbortedExecution, cont.Kind)
	assert.True(t, cont.PrepaidCycles().Equal(cycles.New(500)))
}

func TestExecuteSlice_UnknownCanister(t *testing.T) {
	driver := newDriver(t, stateMap{}, &scriptedInterpreter{})
	_, err := driver.ExecuteSlice(context.Background(), "missing", 1_000, model.Time(1))
	assert.Error(t, err)
}
