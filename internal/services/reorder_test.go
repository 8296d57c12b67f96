package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReorderFixture(t *testing.T, srcHeader []interface{}, srcRows [][]interface{}, tplHeader []interface{}) (string, string) {
	t.Helper()
	dir := t.TempDir()

	src := filepath.Join(dir, "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(src)
	require.NoError(t, err)
	require.NoError(t, wb.WriteSheet(SheetMerged, srcHeader, srcRows))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	tplPath := filepath.Join(dir, "plantilla.xlsx")
	tpl, err := OpenOrCreateWorkbook(tplPath)
	require.NoError(t, err)
	require.NoError(t, tpl.WriteSheet("Plantilla", tplHeader, nil))
	require.NoError(t, tpl.Save())
	require.NoError(t, tpl.Close())

	return src, tplPath
}

func TestReorderFollowsTemplateOrder(t *testing.T) {
	src, tpl := writeReorderFixture(t,
		[]interface{}{"ID", "Tema", "Estado"},
		[][]interface{}{{"1", "uno", "Abierto"}},
		[]interface{}{"Estado", "ID", "Tema"},
	)

	result, err := NewReorderService().ReorderFile(src, ReorderOptions{TemplatePath: tpl, TemplateSheet: "Plantilla"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.RowsCopied)
	assert.Equal(t, 3, result.OutColumns)

	wb, err := OpenWorkbook(src)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.Rows(SheetMerged)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"Estado", "ID", "Tema"}, rows[0])
	assert.Equal(t, []string{"Abierto", "1", "uno"}, rows[1])
}

func TestReorderMatchesByAliasAndKey(t *testing.T) {
	src, tpl := writeReorderFixture(t,
		[]interface{}{"ID", "Actualizado (fecha y hora)", "Residencia/Urbanización"},
		[][]interface{}{{"1", "01/02/2025 10:00", "Res A"}},
		// The alias table covers the wording drift, tolerant keys the accents.
		[]interface{}{"ID", "Fecha y hora de actualización", "Residencia Urbanizacion"},
	)

	_, err := NewReorderService().ReorderFile(src, ReorderOptions{TemplatePath: tpl, TemplateSheet: "Plantilla"})
	require.NoError(t, err)

	wb, err := OpenWorkbook(src)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.Rows(SheetMerged)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Fecha y hora de actualización", rows[0][1])
	assert.Equal(t, "01/02/2025 10:00", rows[1][1])
	assert.Equal(t, "Res A", rows[1][2])
}

func TestReorderUnresolvedTemplateColumnEmpty(t *testing.T) {
	src, tpl := writeReorderFixture(t,
		[]interface{}{"ID"},
		[][]interface{}{{"1"}},
		[]interface{}{"ID", "Columna Fantasma"},
	)

	result, err := NewReorderService().ReorderFile(src, ReorderOptions{TemplatePath: tpl, TemplateSheet: "Plantilla"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.OutColumns)

	wb, err := OpenWorkbook(src)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.Rows(SheetMerged)
	require.NoError(t, err)
	assert.Equal(t, "Columna Fantasma", rows[0][1])
	if len(rows[1]) > 1 {
		assert.Equal(t, "", rows[1][1])
	}
}

func TestReorderKeepExtras(t *testing.T) {
	src, tpl := writeReorderFixture(t,
		[]interface{}{"ID", "Tema", "Nota Interna", "Campo Extra"},
		[][]interface{}{{"1", "uno", "privado", "extra"}},
		[]interface{}{"Tema", "ID"},
	)

	result, err := NewReorderService().ReorderFile(src, ReorderOptions{
		TemplatePath:  tpl,
		TemplateSheet: "Plantilla",
		KeepExtras:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.OutColumns)

	wb, err := OpenWorkbook(src)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.Rows(SheetMerged)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tema", "ID", "Nota Interna", "Campo Extra"}, rows[0])
	assert.Equal(t, []string{"uno", "1", "privado", "extra"}, rows[1])
}

func TestReorderExcludeRemovesEverywhere(t *testing.T) {
	src, tpl := writeReorderFixture(t,
		[]interface{}{"ID", "Tema", "Nota Interna"},
		[][]interface{}{{"1", "uno", "privado"}},
		[]interface{}{"ID", "Nota Interna", "Tema"},
	)

	result, err := NewReorderService().ReorderFile(src, ReorderOptions{
		TemplatePath:  tpl,
		TemplateSheet: "Plantilla",
		KeepExtras:    true,
		Exclude:       []string{"Nota Interna"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.OutColumns)

	wb, err := OpenWorkbook(src)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.Rows(SheetMerged)
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "Tema"}, rows[0])
}

func TestReorderMissingMergedSheet(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "datos.xlsx")
	wb, err := OpenOrCreateWorkbook(src)
	require.NoError(t, err)
	require.NoError(t, wb.WriteSheet("Otra", []interface{}{"ID"}, nil))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	_, err = NewReorderService().ReorderFile(src, ReorderOptions{TemplatePath: src})
	assert.Error(t, err)
}
