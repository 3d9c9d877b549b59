package canstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replivm/canstate/service/meta"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 20, config.Canister.HistoryRetention)
	assert.NotZero(t, config.Rounds.DefaultBudget)
}

func TestConfig_Validate(t *testing.T) {
	config := DefaultConfig()
	config.Rounds.MaxTasksPerSlice = 0
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Rounds.DefaultBudget = 0
	assert.Error(t, config.Validate())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	doc := `
canister:
  reservedCyclesLimit: 5000
  historyRetention: 7
rounds:
  maxTasksPerSlice: 8
  defaultBudget: 1000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "canstate.yaml"), []byte(doc), 0o644))

	config, err := LoadConfig(context.Background(), meta.New(nil, dir), "canstate.yaml")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), config.Canister.ReservedCyclesLimit)
	assert.Equal(t, 7, config.Canister.HistoryRetention)
	assert.Equal(t, 8, config.Rounds.MaxTasksPerSlice)
	assert.Equal(t, uint64(1000), config.Rounds.DefaultBudget)
}

func TestLoadConfig_InvalidDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"),
		[]byte("rounds:\n  maxTasksPerSlice: 0\n"), 0o644))

	_, err := LoadConfig(context.Background(), meta.New(nil, dir), "bad.yaml")
	assert.Error(t, err)
}
