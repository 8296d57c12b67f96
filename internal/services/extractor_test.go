package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splynx-collector/internal/common"
)

func TestResolveColumnsByNameAndAlias(t *testing.T) {
	headers := []string{"Nº", "Subject", "Status", "Reporter ID"}
	cols := []columnSpec{
		{Name: "ID", Aliases: []string{"id", "nº"}, IDLike: true},
		{Name: "Tema", Aliases: []string{"tema", "subject"}},
		{Name: "Estado", Aliases: []string{"estado", "status"}},
		{Name: "Reporter ID", Aliases: []string{"reporter id"}, IDLike: true},
		{Name: "Promocion", Aliases: []string{"promocion"}},
	}

	indices := resolveColumns(headers, cols)

	assert.Equal(t, []int{1, 2, 3, 4, 0}, indices)
}

func TestResolveColumnsNormalizesAccents(t *testing.T) {
	headers := []string{"Promoción", "Categoría del Cierre"}
	cols := []columnSpec{
		{Name: "Promocion", Aliases: []string{"promocion", "promoción"}},
		{Name: "Categoria del Cierre", Aliases: []string{"categoria del cierre"}},
	}

	indices := resolveColumns(headers, cols)
	assert.Equal(t, []int{1, 2}, indices)
}

func TestBuildRowNormalizesIDColumns(t *testing.T) {
	cols := []columnSpec{
		{Name: "ID", IDLike: true},
		{Name: "Tema"},
		{Name: "Promocion"},
	}
	indices := []int{1, 2, 0}

	row := buildRow([]string{"R135921", "  Sin   internet  "}, indices, cols)
	require.NotNil(t, row)

	assert.Equal(t, "135921", row[0])
	assert.Equal(t, "Sin internet", row[1])
	assert.Equal(t, "", row[2])
}

func TestBuildRowAllEmptySkipped(t *testing.T) {
	cols := []columnSpec{{Name: "ID", IDLike: true}, {Name: "Tema"}}

	assert.Nil(t, buildRow([]string{"", "   "}, []int{1, 2}, cols))
	assert.Nil(t, buildRow([]string{"x"}, []int{0, 0}, cols))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "135921", NormalizeCode("R135921"))
	assert.Equal(t, "135921", NormalizeCode("1.35921E+05"))
	assert.Equal(t, "135921", NormalizeCode("135921"))
	// Text without digits passes through untouched.
	assert.Equal(t, "sin id", NormalizeCode("sin id"))
	assert.Equal(t, "", NormalizeCode(""))
}

func TestNextButtonDisabled(t *testing.T) {
	assert.True(t, nextButtonDisabled("paginate_button next disabled"))
	assert.True(t, nextButtonDisabled("disabled"))
	assert.False(t, nextButtonDisabled("paginate_button next"))
	// Token match only, not substring.
	assert.False(t, nextButtonDisabled("not-disabled"))
	assert.False(t, nextButtonDisabled(""))
}

func TestExtractionPipelineFromTableHTML(t *testing.T) {
	fragment := `<table>
		<thead><tr><th>Nº</th><th>Subject</th><th>Reporter ID</th></tr></thead>
		<tbody>
			<tr><td>R135921</td><td>Sin internet</td><td>1.00123E+05</td></tr>
			<tr><td></td><td>  </td><td></td></tr>
		</tbody>
	</table>`

	parsed, err := common.ParseTable(fragment)
	require.NoError(t, err)

	cols := []columnSpec{
		{Name: "ID", Aliases: []string{"id", "nº"}, IDLike: true},
		{Name: "Tema", Aliases: []string{"tema", "subject"}},
		{Name: "Reporter ID", Aliases: []string{"reporter id"}, IDLike: true},
	}
	indices := resolveColumns(parsed.Headers, cols)

	var rows [][]interface{}
	for _, pr := range parsed.Rows {
		if pr.EmptyMarker {
			break
		}
		if row := buildRow(pr.Cells, indices, cols); row != nil {
			rows = append(rows, row)
		}
	}

	require.Len(t, rows, 1)
	assert.Equal(t, []interface{}{"135921", "Sin internet", "100123"}, rows[0])
}

func TestTicketFilterStepsEndWithApply(t *testing.T) {
	steps := ticketFilterSteps()
	require.NotEmpty(t, steps)

	last := steps[len(steps)-1]
	assert.Equal(t, "click", last.Action)

	var waitEnabled, waitNonEmpty bool
	for _, s := range steps {
		switch s.Action {
		case "wait_enabled":
			waitEnabled = true
		case "wait_nonempty":
			waitNonEmpty = true
		}
	}
	assert.True(t, waitEnabled)
	assert.True(t, waitNonEmpty)
}
