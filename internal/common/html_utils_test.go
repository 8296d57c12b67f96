package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTableWithHead(t *testing.T) {
	fragment := `<table>
		<thead><tr><th>ID</th><th> Tema </th></tr></thead>
		<tbody>
			<tr><td>135921</td><td>Sin   internet</td></tr>
			<tr><td>135922</td><td>Factura</td></tr>
		</tbody>
	</table>`

	parsed, err := ParseTable(fragment)
	require.NoError(t, err)

	assert.Equal(t, []string{"ID", "Tema"}, parsed.Headers)
	require.Len(t, parsed.Rows, 2)
	assert.Equal(t, []string{"135921", "Sin internet"}, parsed.Rows[0].Cells)
	assert.False(t, parsed.Rows[0].EmptyMarker)
}

func TestParseTableWithoutHead(t *testing.T) {
	fragment := `<table>
		<tr><td>ID</td><td>Tema</td></tr>
		<tr><td>1</td><td>algo</td></tr>
	</table>`

	parsed, err := ParseTable(fragment)
	require.NoError(t, err)

	assert.Equal(t, []string{"ID", "Tema"}, parsed.Headers)
	require.Len(t, parsed.Rows, 1)
	assert.Equal(t, []string{"1", "algo"}, parsed.Rows[0].Cells)
}

func TestParseTableEmptyMarker(t *testing.T) {
	fragment := `<table>
		<thead><tr><th>ID</th></tr></thead>
		<tbody><tr><td class="dataTables_empty" colspan="5">No data available in table</td></tr></tbody>
	</table>`

	parsed, err := ParseTable(fragment)
	require.NoError(t, err)

	require.Len(t, parsed.Rows, 1)
	assert.True(t, parsed.Rows[0].EmptyMarker)
}

func TestParseTableNestedMarkup(t *testing.T) {
	fragment := `<table><thead><tr><th>Estado</th></tr></thead>
		<tbody><tr><td><span class="label">Abierto</span> <small>(nuevo)</small></td></tr></tbody></table>`

	parsed, err := ParseTable(fragment)
	require.NoError(t, err)

	require.Len(t, parsed.Rows, 1)
	assert.Equal(t, "Abierto (nuevo)", parsed.Rows[0].Cells[0])
}
