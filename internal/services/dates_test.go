package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splynx-collector/internal/interfaces"
)

// writeDatedFixture builds a merged sheet whose rows already carry all three
// dates, so a collection pass only skips and never touches the browser.
func writeDatedFixture(t *testing.T, ids ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	defer wb.Close()

	rows := make([][]interface{}, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []interface{}{id, "15/03/2025 10:00", "16/03/2025 09:00", "16/03/2025 18:00"})
	}
	require.NoError(t, wb.WriteSheet(SheetMerged,
		[]interface{}{"ID", escalationHeader, resolvedHeader, closedHeader}, rows))
	require.NoError(t, wb.Save())
	return path
}

func TestIsMissingValue(t *testing.T) {
	assert.True(t, isMissingValue(""))
	assert.True(t, isMissingValue("   "))
	assert.True(t, isMissingValue("N/A"))
	assert.True(t, isMissingValue("n/a"))
	assert.True(t, isMissingValue("NA"))
	assert.False(t, isMissingValue("15/03/2025 14:30"))
	assert.False(t, isMissingValue("0"))
}

func TestFindHeaderExact(t *testing.T) {
	headers := []string{"ID", " Fecha Escalamiento (O&M) ", "Resuelto"}

	assert.Equal(t, 1, findHeaderExact(headers, "id"))
	assert.Equal(t, 2, findHeaderExact(headers, "Fecha Escalamiento (O&M)"))
	assert.Equal(t, 3, findHeaderExact(headers, "RESUELTO"))
	assert.Equal(t, 0, findHeaderExact(headers, "Fecha Cierre (closed)"))
}

func TestOrNAAndOkOrNo(t *testing.T) {
	assert.Equal(t, "N/A", orNA(""))
	assert.Equal(t, "15/03/2025 14:30", orNA("15/03/2025 14:30"))
	assert.Equal(t, "NO", okOrNo(""))
	assert.Equal(t, "OK", okOrNo("x"))
}

func TestEnsureDateColumnsAppendsAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	defer wb.Close()

	require.NoError(t, wb.WriteSheet(SheetMerged,
		[]interface{}{"ID", "Tema"},
		[][]interface{}{{"1", "uno"}}))

	d := &DateCollector{}
	rows, err := wb.Rows(SheetMerged)
	require.NoError(t, err)

	escCol, resCol, cieCol, err := d.ensureDateColumns(wb, rows[0])
	require.NoError(t, err)

	assert.Equal(t, 3, escCol)
	assert.Equal(t, 4, resCol)
	assert.Equal(t, 5, cieCol)

	rows, err = wb.Rows(SheetMerged)
	require.NoError(t, err)
	assert.Equal(t, escalationHeader, rows[0][2])
	assert.Equal(t, resolvedHeader, rows[0][3])
	assert.Equal(t, closedHeader, rows[0][4])
}

func TestEnsureDateColumnsInsertsResolvedBetween(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	defer wb.Close()

	// Escalation and closure already exist from an older pass; "Resuelto"
	// must land between them, shifting closure right.
	require.NoError(t, wb.WriteSheet(SheetMerged,
		[]interface{}{"ID", escalationHeader, closedHeader},
		[][]interface{}{{"1", "15/03/2025 10:00", "16/03/2025 18:00"}}))

	d := &DateCollector{}
	rows, err := wb.Rows(SheetMerged)
	require.NoError(t, err)

	escCol, resCol, cieCol, err := d.ensureDateColumns(wb, rows[0])
	require.NoError(t, err)

	assert.Equal(t, 2, escCol)
	assert.Equal(t, 3, resCol)
	assert.Equal(t, 4, cieCol)

	rows, err = wb.Rows(SheetMerged)
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", escalationHeader, resolvedHeader, closedHeader}, rows[0])
	// Existing closure data moved with its column.
	assert.Equal(t, "16/03/2025 18:00", cellAt(rows[1], cieCol))
	assert.Equal(t, "", cellAt(rows[1], resCol))
}

func TestDateCollectorSkipsFullyDatedRows(t *testing.T) {
	path := writeDatedFixture(t, "101", "102", "103")

	result, err := NewDateCollector(nil, nil).Run(path)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 0, result.Failed)

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.True(t, cp.Done)
	assert.Equal(t, 3, cp.Skipped)
}

func TestDateCollectorResumesAfterCheckpointedRow(t *testing.T) {
	path := writeDatedFixture(t, "101", "102", "103")

	// Row 2 holds ticket 101; the earlier run handled it along with ten
	// updates, three skips and one failure before being interrupted.
	require.NoError(t, SaveCheckpoint(path, &interfaces.Checkpoint{
		LastRowIdx:   2,
		LastTicketID: "101",
		Updated:      10,
		Skipped:      3,
		Failed:       1,
	}))

	result, err := NewDateCollector(nil, nil).Run(path)
	require.NoError(t, err)

	// Only the two rows after the checkpoint are processed, and the final
	// counters match a run that was never interrupted.
	assert.Equal(t, 10, result.Updated)
	assert.Equal(t, 5, result.Skipped)
	assert.Equal(t, 1, result.Failed)

	cp, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.True(t, cp.Done)
	assert.Equal(t, 10, cp.Updated)
	assert.Equal(t, 5, cp.Skipped)
	assert.Equal(t, 1, cp.Failed)
}

func TestDateCollectorIgnoresFinishedCheckpoint(t *testing.T) {
	path := writeDatedFixture(t, "101", "102")

	require.NoError(t, SaveCheckpoint(path, &interfaces.Checkpoint{
		LastRowIdx:   3,
		LastTicketID: "102",
		Updated:      7,
		Skipped:      2,
		Done:         true,
	}))

	result, err := NewDateCollector(nil, nil).Run(path)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 2, result.Skipped)
}

func TestEnsureDateColumnsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	defer wb.Close()

	require.NoError(t, wb.WriteSheet(SheetMerged,
		[]interface{}{"ID", escalationHeader, resolvedHeader, closedHeader},
		[][]interface{}{{"1", "a", "b", "c"}}))

	d := &DateCollector{}
	rows, err := wb.Rows(SheetMerged)
	require.NoError(t, err)

	escCol, resCol, cieCol, err := d.ensureDateColumns(wb, rows[0])
	require.NoError(t, err)

	assert.Equal(t, 2, escCol)
	assert.Equal(t, 3, resCol)
	assert.Equal(t, 4, cieCol)

	rows, err = wb.Rows(SheetMerged)
	require.NoError(t, err)
	assert.Len(t, rows[0], 4)
}
