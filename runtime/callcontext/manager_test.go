package callcontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/model/cycles"
	"github.com/replivm/canstate/model/fault"
)

func ingressOrigin() model.Origin {
	return model.NewIngressOrigin("user-1", "msg-1")
}

func TestManager_IDMonotonicity(t *testing.T) {
	m := NewManager("canister-a")

	var prevCtx model.CallContextID
	var prevCb model.CallbackID
	for i := 0; i < 10; i++ {
		ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.Zero())
		require.NoError(t, err)
		assert.Greater(t, ctxID, prevCtx)
		prevCtx = ctxID

		cbID, err := m.RegisterCallback(ctxID, CallbackSpec{Respondent: "canister-b"})
		require.NoError(t, err)
		assert.Greater(t, cbID, prevCb)
		prevCb = cbID

		// Resolving and deleting must not rewind either counter.
		_, _, err = m.OnResponse(cbID)
		require.NoError(t, err)
		require.NoError(t, m.MarkResponded(ctxID))
		assert.True(t, m.DeleteIfResponded(ctxID))
	}
}

func TestManager_AtMostOneResponse(t *testing.T) {
	m := NewManager("canister-a")
	ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.Zero())
	require.NoError(t, err)

	require.NoError(t, m.MarkResponded(ctxID))
	err = m.MarkResponded(ctxID)
	require.Error(t, err)
	assert.True(t, fault.IsInvariant(err))
}

func TestManager_RegisterCallbackRequiresLiveContext(t *testing.T) {
	m := NewManager("canister-a")
	_, err := m.RegisterCallback(42, CallbackSpec{})
	require.Error(t, err)
	assert.True(t, fault.IsInvariant(err))
}

func TestManager_OnResponseUnknownIsStale(t *testing.T) {
	m := NewManager("canister-a")
	_, _, err := m.OnResponse(7)
	require.Error(t, err)
	assert.True(t, fault.IsStaleReference(err))
}

func TestManager_DeleteWaitsForCallbacks(t *testing.T) {
	m := NewManager("canister-a")
	ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.Zero())
	require.NoError(t, err)
	cbID, err := m.RegisterCallback(ctxID, CallbackSpec{Respondent: "canister-b"})
	require.NoError(t, err)

	require.NoError(t, m.MarkResponded(ctxID))
	assert.False(t, m.DeleteIfResponded(ctxID), "unresolved callback must block deletion")

	_, _, err = m.OnResponse(cbID)
	require.NoError(t, err)
	assert.True(t, m.DeleteIfResponded(ctxID))
	assert.Nil(t, m.CallContext(ctxID))
}

func TestManager_DeleteRequiresResponded(t *testing.T) {
	m := NewManager("canister-a")
	ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.Zero())
	require.NoError(t, err)
	assert.False(t, m.DeleteIfResponded(ctxID))
	assert.NotNil(t, m.CallContext(ctxID))
}

func TestManager_ExpireDeadlinedCallbacks(t *testing.T) {
	m := NewManager("canister-a")
	ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.Zero())
	require.NoError(t, err)

	const t0 = model.Time(1000)
	guaranteed, err := m.RegisterCallback(ctxID, CallbackSpec{Respondent: "b"})
	require.NoError(t, err)
	bestEffort, err := m.RegisterCallback(ctxID, CallbackSpec{Respondent: "b", Deadline: t0 + 5})
	require.NoError(t, err)

	// Before the deadline nothing expires.
	assert.Empty(t, m.ExpireDeadlinedCallbacks(t0+5))

	expired := m.ExpireDeadlinedCallbacks(t0 + 6)
	require.Len(t, expired, 1)
	assert.Equal(t, bestEffort, expired[0].ID)

	// The call is consuming: a second sweep returns nothing.
	assert.Empty(t, m.ExpireDeadlinedCallbacks(t0 + 6))

	// A late response for the expired callback is a stale reference and
	// must not disturb the guaranteed callback.
	_, _, err = m.OnResponse(bestEffort)
	require.Error(t, err)
	assert.True(t, fault.IsStaleReference(err))
	assert.NotNil(t, m.Callback(guaranteed))
}

func TestManager_ExpiredOrderIsAscending(t *testing.T) {
	m := NewManager("canister-a")
	ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.Zero())
	require.NoError(t, err)

	var ids []model.CallbackID
	for i := 0; i < 5; i++ {
		id, err := m.RegisterCallback(ctxID, CallbackSpec{Respondent: "b", Deadline: 10})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	expired := m.ExpireDeadlinedCallbacks(11)
	require.Len(t, expired, len(ids))
	for i, cb := range expired {
		assert.Equal(t, ids[i], cb.ID)
	}
}

func TestManager_PastDeadlineExpiresOnNextSweep(t *testing.T) {
	m := NewManager("canister-a")
	ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.Zero())
	require.NoError(t, err)

	// A callback whose deadline already elapsed when it was registered is
	// not stranded: the next sweep collects it like any other.
	id, err := m.RegisterCallback(ctxID, CallbackSpec{Respondent: "b", Deadline: 5})
	require.NoError(t, err)
	expired := m.ExpireDeadlinedCallbacks(20)
	require.Len(t, expired, 1)
	assert.Equal(t, id, expired[0].ID)
	assert.Equal(t, 0, m.Stats().Unexpired)
}

func TestManager_WithdrawCycles(t *testing.T) {
	m := NewManager("canister-a")
	ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.New(100))
	require.NoError(t, err)

	require.NoError(t, m.WithdrawCycles(ctxID, cycles.New(60)))
	err = m.WithdrawCycles(ctxID, cycles.New(41))
	require.Error(t, err)
	assert.True(t, fault.IsInsufficientCycles(err))
	assert.True(t, m.CallContext(ctxID).AvailableCycles.Equal(cycles.New(40)))
}

func TestManager_SnapshotRoundTrip(t *testing.T) {
	m := NewManager("canister-a")
	ctxID, err := m.OpenCallContext(ingressOrigin(), cycles.New(5))
	require.NoError(t, err)
	cleanup := Closure{FuncIdx: 3, Env: 9}
	_, err = m.RegisterCallback(ctxID, CallbackSpec{
		OnReply:          Closure{FuncIdx: 1, Env: 7},
		OnReject:         Closure{FuncIdx: 2, Env: 8},
		OnCleanup:        &cleanup,
		CyclesSent:       cycles.New(11),
		PrepaidExecution: cycles.New(13),
		Respondent:       "canister-b",
		Deadline:         99,
	})
	require.NoError(t, err)

	restored, err := FromSnapshot("canister-a", m.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot(), restored.Snapshot())
	assert.Equal(t, m.Stats(), restored.Stats())

	// Ids allocated after restore continue the original sequence.
	next, err := restored.OpenCallContext(ingressOrigin(), cycles.Zero())
	require.NoError(t, err)
	assert.Equal(t, ctxID+1, next)
}

func TestFromSnapshot_RejectsRewoundCounter(t *testing.T) {
	m := NewManager("canister-a")
	_, err := m.OpenCallContext(ingressOrigin(), cycles.Zero())
	require.NoError(t, err)

	snap := m.Snapshot()
	snap.NextCallContextID = 1 // rewound below an allocated id
	_, err = FromSnapshot("canister-a", snap)
	require.Error(t, err)
	assert.True(t, fault.IsInvariant(err))
}
