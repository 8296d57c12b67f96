package services

import (
	"encoding/json"
	"os"
	"time"

	"splynx-collector/internal/common"
	"splynx-collector/internal/interfaces"
)

// CheckpointPath returns the sidecar path for a workbook's resumable
// collection state.
func CheckpointPath(workbookPath string) string {
	return workbookPath + ".progress.json"
}

// LoadCheckpoint reads the sidecar; a missing file yields a zero checkpoint
// so a fresh run starts from the top.
func LoadCheckpoint(workbookPath string) (*interfaces.Checkpoint, error) {
	data, err := os.ReadFile(CheckpointPath(workbookPath))
	if err != nil {
		if os.IsNotExist(err) {
			return &interfaces.Checkpoint{Excel: workbookPath}, nil
		}
		return nil, common.NewStorageError("checkpoint_read", "cannot read checkpoint sidecar").WithCause(err)
	}

	cp := &interfaces.Checkpoint{}
	if err := json.Unmarshal(data, cp); err != nil {
		// A torn or hand-edited sidecar restarts the pass rather than
		// aborting it.
		common.GetLogger().Warn().Err(err).Msg("Checkpoint sidecar unreadable, restarting from row 1")
		return &interfaces.Checkpoint{Excel: workbookPath}, nil
	}
	cp.Excel = workbookPath
	return cp, nil
}

// SaveCheckpoint writes the sidecar atomically via temp-and-rename.
func SaveCheckpoint(workbookPath string, cp *interfaces.Checkpoint) error {
	cp.Excel = workbookPath
	cp.TS = time.Now().Format(time.RFC3339)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return common.NewStorageError("checkpoint_encode", "cannot encode checkpoint").WithCause(err)
	}

	path := CheckpointPath(workbookPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return common.NewStorageError("checkpoint_write", "cannot write checkpoint sidecar").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return common.NewStorageError("checkpoint_rename", "cannot replace checkpoint sidecar").WithCause(err)
	}
	return nil
}
