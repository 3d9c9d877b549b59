package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replivm/canstate/model"
)

func creation(version uint64) Change {
	return Change{
		Timestamp:       model.Time(version * 10),
		CanisterVersion: version,
		Origin:          FromUser("admin"),
		Detail: ChangeDetail{
			Kind:     ChangeCreation,
			Creation: &CreationDetail{Controllers: []model.PrincipalID{"admin"}},
		},
	}
}

func settings(version uint64) Change {
	return Change{
		Timestamp:       model.Time(version * 10),
		CanisterVersion: version,
		Origin:          FromUser("admin"),
		Detail:          ChangeDetail{Kind: ChangeSettingsChange},
	}
}

func TestHistory_TotalNeverDecreases(t *testing.T) {
	h := New(3)
	require.NoError(t, h.Record(creation(1)))
	var prev uint64
	for v := uint64(2); v < 12; v++ {
		require.NoError(t, h.Record(settings(v)))
		total := h.TotalNumChanges()
		assert.Greater(t, total, prev)
		prev = total
	}
	assert.Equal(t, uint64(11), h.TotalNumChanges())
	assert.Equal(t, 3, h.Len(), "retention bound holds while the counter keeps counting")
}

func TestHistory_EvictionIsOldestFirst(t *testing.T) {
	h := New(2)
	require.NoError(t, h.Record(settings(1)))
	require.NoError(t, h.Record(settings(2)))
	require.NoError(t, h.Record(settings(3)))

	retained := h.ChangesSince(0)
	require.Len(t, retained, 2)
	assert.Equal(t, uint64(2), retained[0].CanisterVersion)
	assert.Equal(t, uint64(3), retained[1].CanisterVersion)
}

func TestHistory_ChangesSinceFiltersByVersion(t *testing.T) {
	h := New(0)
	for v := uint64(1); v <= 5; v++ {
		require.NoError(t, h.Record(settings(v)))
	}
	got := h.ChangesSince(3)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(4), got[0].CanisterVersion)
	assert.Equal(t, uint64(5), got[1].CanisterVersion)
	assert.Empty(t, h.ChangesSince(5))
}

func TestHistory_RecordValidatesDetail(t *testing.T) {
	h := New(0)
	err := h.Record(Change{Detail: ChangeDetail{Kind: ChangeCreation}})
	require.Error(t, err, "creation without payload is rejected")
	err = h.Record(Change{Detail: ChangeDetail{Kind: "bogus"}})
	require.Error(t, err)
	assert.Equal(t, uint64(0), h.TotalNumChanges())
}

func TestHistory_DetailVariants(t *testing.T) {
	h := New(0)
	version := uint64(7)
	changes := []Change{
		{CanisterVersion: 1, Origin: FromUser("u"), Detail: ChangeDetail{
			Kind:     ChangeCreation,
			Creation: &CreationDetail{Controllers: []model.PrincipalID{"u"}}}},
		{CanisterVersion: 2, Origin: FromCanister("other", &version), Detail: ChangeDetail{
			Kind:           ChangeCodeDeployment,
			CodeDeployment: &CodeDeploymentDetail{Mode: "install", ModuleHash: []byte{1, 2}}}},
		{CanisterVersion: 3, Origin: FromUser("u"), Detail: ChangeDetail{Kind: ChangeCodeUninstall}},
		{CanisterVersion: 4, Origin: FromUser("u"), Detail: ChangeDetail{
			Kind:        ChangeControllersChange,
			Controllers: &ControllersChangeDetail{Controllers: []model.PrincipalID{"u", "v"}}}},
		{CanisterVersion: 5, Origin: FromUser("u"), Detail: ChangeDetail{
			Kind:         ChangeLoadSnapshot,
			LoadSnapshot: &LoadSnapshotDetail{SnapshotID: "s1", TakenAtTime: 50, SnapshotOfVer: 2}}},
		{CanisterVersion: 6, Origin: FromUser("u"), Detail: ChangeDetail{
			Kind:   ChangeRename,
			Rename: &RenameDetail{NewCanisterID: "renamed"}}},
	}
	for _, c := range changes {
		require.NoError(t, h.Record(c))
	}
	assert.Equal(t, uint64(len(changes)), h.TotalNumChanges())
}

func TestHistory_SnapshotRoundTrip(t *testing.T) {
	h := New(5)
	require.NoError(t, h.Record(creation(1)))
	require.NoError(t, h.Record(settings(2)))

	restored := FromSnapshot(h.Snapshot())
	assert.Equal(t, h.Snapshot(), restored.Snapshot())
	assert.Equal(t, h.TotalNumChanges(), restored.TotalNumChanges())
}
