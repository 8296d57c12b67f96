package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splynx-collector/internal/interfaces"
)

func TestLoadCheckpointMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)

	assert.Equal(t, path, cp.Excel)
	assert.Equal(t, 0, cp.LastRowIdx)
	assert.False(t, cp.Done)
}

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")

	require.NoError(t, SaveCheckpoint(path, &interfaces.Checkpoint{
		LastRowIdx:   42,
		LastTicketID: "135921",
		Updated:      10,
		Skipped:      3,
		Failed:       1,
	}))

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cp.LastRowIdx)
	assert.Equal(t, "135921", cp.LastTicketID)
	assert.Equal(t, 10, cp.Updated)
	assert.Equal(t, 3, cp.Skipped)
	assert.Equal(t, 1, cp.Failed)
	assert.NotEmpty(t, cp.TS)
	assert.False(t, cp.Done)
}

func TestLoadCheckpointCorruptRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	require.NoError(t, os.WriteFile(CheckpointPath(path), []byte("{torn"), 0644))

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cp.LastRowIdx)
}

func TestSaveCheckpointLeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	require.NoError(t, SaveCheckpoint(path, &interfaces.Checkpoint{LastRowIdx: 1}))

	_, err := os.Stat(CheckpointPath(path) + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCheckpointDoneFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	require.NoError(t, SaveCheckpoint(path, &interfaces.Checkpoint{Done: true, Updated: 5}))

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.True(t, cp.Done)
	assert.Equal(t, 5, cp.Updated)
}
