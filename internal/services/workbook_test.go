package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderIndexNormalizesAndFirstWins(t *testing.T) {
	idx := HeaderIndex([]string{"ID", " Residencia/Urbanización ", "id", "", "Socio"})

	assert.Equal(t, 1, idx["id"])
	assert.Equal(t, 2, idx["residencia/urbanizacion"])
	assert.Equal(t, 5, idx["socio"])
}

func TestHeaderColumn(t *testing.T) {
	headers := []string{"ID", "Socio", "Residencia/Urbanización"}

	assert.Equal(t, 3, HeaderColumn(headers, "residencia/urbanizacion"))
	assert.Equal(t, 0, HeaderColumn(headers, "Login"))
}

func TestWriteSheetReplacesWholesale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	defer wb.Close()

	header := []interface{}{"ID", "Tema"}
	require.NoError(t, wb.WriteSheet("Datos", header, [][]interface{}{
		{"1", "uno"},
		{"2", "dos"},
		{"3", "tres"},
	}))
	require.NoError(t, wb.WriteSheet("Datos", header, [][]interface{}{
		{"9", "nueve"},
	}))

	rows, err := wb.Rows("Datos")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"9", "nueve"}, rows[1])
}

func TestRowsMissingSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	defer wb.Close()

	_, err = wb.Rows("No Existe")
	assert.Error(t, err)
}

func TestSaveAtomicAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)

	require.NoError(t, wb.WriteSheet("Datos", []interface{}{"ID"}, [][]interface{}{{"1"}}))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	// Only the workbook itself survives the save; no temp files linger.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "datos.xlsx", entries[0].Name())

	wb2, err := OpenWorkbook(path)
	require.NoError(t, err)
	defer wb2.Close()

	rows, err := wb2.Rows("Datos")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSaveOverwritesExistingWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	require.NoError(t, wb.WriteSheet("Datos", []interface{}{"ID"}, [][]interface{}{{"1"}}))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	wb, err = OpenWorkbook(path)
	require.NoError(t, err)
	require.NoError(t, wb.WriteSheet("Datos", []interface{}{"ID"}, [][]interface{}{{"1"}, {"2"}}))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	wb2, err := OpenWorkbook(path)
	require.NoError(t, err)
	defer wb2.Close()

	rows, err := wb2.Rows("Datos")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestOpenWorkbookMissing(t *testing.T) {
	_, err := OpenWorkbook(filepath.Join(t.TempDir(), "no-existe.xlsx"))
	assert.Error(t, err)
}

func TestEnsureBackupOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datos.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))

	require.NoError(t, EnsureBackup(path))
	bak, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(bak))

	// The backup reflects the state before the first mutation; later calls
	// leave it alone.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0644))
	require.NoError(t, EnsureBackup(path))
	bak, err = os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(bak))
}

func TestEnsureBackupMissingSource(t *testing.T) {
	assert.NoError(t, EnsureBackup(filepath.Join(t.TempDir(), "no-existe.xlsx")))
}
