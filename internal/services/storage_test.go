package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splynx-collector/internal/common"
	"splynx-collector/internal/interfaces"
)

func newTestStorage(t *testing.T) interfaces.Storage {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStorage(&common.StorageConfig{
		DatabasePath: filepath.Join(dir, "runs.db"),
		BackupDir:    filepath.Join(dir, "backups"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorageRecordAndLoadRuns(t *testing.T) {
	store := newTestStorage(t)

	base := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(&interfaces.RunRecord{
		Command: "extract:tickets", Started: base, Finished: base.Add(time.Minute),
		OK: true, Processed: 120,
	}))
	require.NoError(t, store.RecordRun(&interfaces.RunRecord{
		Command: "collect-dates", Started: base.Add(time.Hour), Finished: base.Add(2 * time.Hour),
		OK: false, Error: "workbook locked", Updated: 5, Failed: 1,
	}))

	runs, err := store.LoadRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// bbolt iterates keys in order; the time-prefixed keys keep runs sorted.
	assert.Equal(t, "extract:tickets", runs[0].Command)
	assert.Equal(t, 120, runs[0].Processed)
	assert.Equal(t, "collect-dates", runs[1].Command)
	assert.Equal(t, "workbook locked", runs[1].Error)
}

func TestStorageLastRun(t *testing.T) {
	store := newTestStorage(t)

	last, err := store.LastRun()
	require.NoError(t, err)
	assert.Nil(t, last)

	base := time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(&interfaces.RunRecord{Command: "extract:tickets", Started: base, OK: true}))
	require.NoError(t, store.RecordRun(&interfaces.RunRecord{Command: "enrich", Started: base.Add(time.Hour), OK: true}))

	last, err = store.LastRun()
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "enrich", last.Command)
}

func TestStorageLoadRunsEmpty(t *testing.T) {
	store := newTestStorage(t)

	runs, err := store.LoadRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)
}
