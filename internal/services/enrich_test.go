package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splynx-collector/internal/interfaces"
)

func writeNotFoundFixture(t *testing.T, header []interface{}, rows [][]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	defer wb.Close()

	require.NoError(t, wb.WriteSheet(SheetNotFound, header, rows))
	require.NoError(t, wb.Save())
	return path
}

func TestReadMissingIDsJoinPriority(t *testing.T) {
	path := writeNotFoundFixture(t,
		[]interface{}{"ID", "Reporter ID", "Reporter type", "ID Cliente"},
		[][]interface{}{
			{"1", "100", "customer", "200"}, // reporter wins
			{"2", "100", "admin", "300"},    // id cliente wins
			{"3", "400", "", ""},            // best-effort reporter
			{"4", "", "", ""},               // no key, dropped
		})

	ids, err := ReadMissingIDs(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "300", "400"}, ids)
}

func TestReadMissingIDsDeduplicatesPreservingOrder(t *testing.T) {
	path := writeNotFoundFixture(t,
		[]interface{}{"ID", "Reporter ID", "Reporter type"},
		[][]interface{}{
			{"1", "R135921", "customer"},
			{"2", "135921", "customer"},
			{"3", "1.35921E+05", "customer"},
			{"4", "500", "customer"},
		})

	ids, err := ReadMissingIDs(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"135921", "500"}, ids)
}

func TestReadMissingIDsNoJoinColumns(t *testing.T) {
	path := writeNotFoundFixture(t,
		[]interface{}{"ID", "Tema"},
		[][]interface{}{{"1", "uno"}})

	_, err := ReadMissingIDs(path)
	assert.Error(t, err)
}

func TestResumeIndex(t *testing.T) {
	ids := []string{"100", "200", "300"}

	assert.Equal(t, 0, resumeIndex(ids, nil))
	assert.Equal(t, 0, resumeIndex(ids, &interfaces.Checkpoint{}))
	assert.Equal(t, 2, resumeIndex(ids, &interfaces.Checkpoint{LastTicketID: "200"}))
	assert.Equal(t, 3, resumeIndex(ids, &interfaces.Checkpoint{LastTicketID: "300"}))
	// A finished run restarts from the top.
	assert.Equal(t, 0, resumeIndex(ids, &interfaces.Checkpoint{LastTicketID: "200", Done: true}))
	// A checkpoint from another pass, whose ID is not in the list, is ignored.
	assert.Equal(t, 0, resumeIndex(ids, &interfaces.Checkpoint{LastTicketID: "999"}))
}

func TestUpsertCustomerMinimalInsertsAndUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	require.NoError(t, wb.WriteSheet(SheetCustomers,
		[]interface{}{"ID", "Socio", "Residencia/Urbanización"},
		[][]interface{}{{"100", "Socio A", "Res A"}}))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	// New customer appended.
	require.NoError(t, upsertCustomerMinimal(path, "200", "Socio B", "Res B"))
	// Existing customer updated in place, matching on the reconciled key.
	require.NoError(t, upsertCustomerMinimal(path, "R100", "Socio A2", ""))

	out, err := OpenWorkbook(path)
	require.NoError(t, err)
	defer out.Close()

	rows, err := out.Rows(SheetCustomers)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "100", rows[1][0])
	assert.Equal(t, "Socio A2", rows[1][1])
	// Empty extracted value never clobbers existing data.
	assert.Equal(t, "Res A", rows[1][2])

	assert.Equal(t, "200", rows[2][0])
	assert.Equal(t, "Socio B", rows[2][1])
	assert.Equal(t, "Res B", rows[2][2])
}

func TestUpsertCustomerMinimalCreatesSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(path)
	require.NoError(t, err)
	require.NoError(t, wb.WriteSheet(SheetTickets, []interface{}{"ID"}, nil))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	require.NoError(t, upsertCustomerMinimal(path, "300", "Socio C", "Res C"))

	out, err := OpenWorkbook(path)
	require.NoError(t, err)
	defer out.Close()

	rows, err := out.Rows(SheetCustomers)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"ID", "Socio", "Residencia/Urbanización"}, rows[0])
	assert.Equal(t, []string{"300", "Socio C", "Res C"}, rows[1])
}

func TestUpsertCustomerMinimalBlankIDNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no-se-crea.xlsx")
	require.NoError(t, upsertCustomerMinimal(path, "", "Socio", "Res"))
	_, err := OpenWorkbook(path)
	assert.Error(t, err)
}
