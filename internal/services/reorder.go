package services

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
)

// headerAliases maps template header keys to source header keys, for cases
// where the template wording drifts too far for tolerant matching alone
// ("fecha y hora de actualización" vs "Actualizado (fecha y hora)").
var headerAliases = buildHeaderAliases()

func buildHeaderAliases() map[string]string {
	pairs := [][2]string{
		{"fecha y hora de actualización", "Actualizado (fecha y hora)"},
		{"actualizacion", "Actualizado (fecha y hora)"},
		{"creado de fecha y hora", "Creado (fecha y hora)"},
		{"socio", "Socio"},
		{"incoming customer", "Incoming Customer"},
		{"id de cliente", "ID Cliente"},
		{"categoria del cierre", "Categoria del Cierre"},
		{"promocion", "Promocion"},
		{"task", "Task"},
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[common.NormMatchKey(p[0])] = common.NormMatchKey(p[1])
	}
	return m
}

// ReorderOptions controls the template-driven column rebuild.
type ReorderOptions struct {
	TemplatePath  string
	TemplateSheet string // empty means the template's active sheet
	Sheet         string // defaults to the merged output sheet
	KeepExtras    bool
	Exclude       []string
}

// ReorderResult summarizes one reorder pass.
type ReorderResult struct {
	RowsCopied int
	OutColumns int
}

// ReorderService rebuilds the merged sheet's columns to match a template
// workbook's row-1 header order, renaming to the template's wording.
type ReorderService struct {
	log arbor.ILogger
}

func NewReorderService() *ReorderService {
	return &ReorderService{log: common.GetLogger()}
}

// ReorderFile opens the workbook, rebuilds the sheet and saves atomically.
func (s *ReorderService) ReorderFile(path string, opts ReorderOptions) (*ReorderResult, error) {
	wb, err := OpenWorkbook(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	result, err := s.Reorder(wb, opts)
	if err != nil {
		return nil, err
	}
	if err := wb.Save(); err != nil {
		return nil, err
	}
	return result, nil
}

// Reorder rebuilds the sheet in place: a new sheet is written column by
// column per the template, the original is deleted, and the new sheet takes
// its name and tab position. Template columns missing from the source come
// out empty; unmatched source columns are appended at the end when
// KeepExtras is set, minus the excluded names.
func (s *ReorderService) Reorder(wb *Workbook, opts ReorderOptions) (*ReorderResult, error) {
	sheet := opts.Sheet
	if sheet == "" {
		sheet = SheetMerged
	}
	if !wb.HasSheet(sheet) {
		return nil, common.NewStructuralError("sheet_missing",
			fmt.Sprintf("sheet %q not found; run the merge first", sheet))
	}

	tpl, err := OpenWorkbook(opts.TemplatePath)
	if err != nil {
		return nil, err
	}
	defer tpl.Close()

	tplSheet := opts.TemplateSheet
	if tplSheet == "" {
		sheets := tpl.File().GetSheetList()
		if len(sheets) == 0 {
			return nil, common.NewStructuralError("template_empty", "template workbook has no sheets")
		}
		tplSheet = sheets[tpl.File().GetActiveSheetIndex()]
	}
	tplRows, err := tpl.Rows(tplSheet)
	if err != nil {
		return nil, err
	}

	var tplHeaders []string
	if len(tplRows) > 0 {
		for _, h := range tplRows[0] {
			if trimmed := strings.TrimSpace(h); trimmed != "" {
				tplHeaders = append(tplHeaders, trimmed)
			}
		}
	}
	if len(tplHeaders) == 0 {
		return nil, common.NewStructuralError("template_no_headers", "template has no headers in row 1")
	}

	excludedKeys := make(map[string]bool)
	for _, c := range opts.Exclude {
		if key := common.NormMatchKey(c); key != "" {
			excludedKeys[key] = true
		}
	}
	if len(excludedKeys) > 0 {
		kept := tplHeaders[:0]
		for _, h := range tplHeaders {
			if !excludedKeys[common.NormMatchKey(h)] {
				kept = append(kept, h)
			}
		}
		tplHeaders = kept
	}

	srcRows, err := wb.Rows(sheet)
	if err != nil {
		return nil, err
	}
	var srcHeaders []string
	if len(srcRows) > 0 {
		for _, h := range srcRows[0] {
			srcHeaders = append(srcHeaders, strings.TrimSpace(h))
		}
		for len(srcHeaders) > 0 && srcHeaders[len(srcHeaders)-1] == "" {
			srcHeaders = srcHeaders[:len(srcHeaders)-1]
		}
	}

	srcIndex := make(map[string]int)
	for i, h := range srcHeaders {
		key := common.NormMatchKey(h)
		if key == "" {
			continue
		}
		if _, exists := srcIndex[key]; !exists {
			srcIndex[key] = i + 1
		}
	}

	// Source keys the template already covers, directly or via alias, so
	// extras never duplicate a reordered column.
	coveredSourceKeys := make(map[string]bool)
	for _, h := range tplHeaders {
		key := common.NormMatchKey(h)
		if key == "" {
			continue
		}
		coveredSourceKeys[key] = true
		if aliased, ok := headerAliases[key]; ok {
			coveredSourceKeys[aliased] = true
		}
	}

	var extras []string
	if opts.KeepExtras {
		seen := make(map[string]bool)
		for _, h := range srcHeaders {
			if h == "" {
				continue
			}
			key := common.NormMatchKey(h)
			if key == "" || coveredSourceKeys[key] || excludedKeys[key] || seen[key] {
				continue
			}
			seen[key] = true
			extras = append(extras, h)
		}
	}

	outHeaders := append(append([]string{}, tplHeaders...), extras...)

	srcColsForOut := make([]int, len(outHeaders))
	for i, h := range outHeaders {
		key := common.NormMatchKey(h)
		if aliased, ok := headerAliases[key]; ok {
			key = aliased
		}
		srcColsForOut[i] = srcIndex[key]
	}

	// Write to a scratch sheet, then swap it in under the original name at
	// the original tab position.
	scratch := sheet + " (Ordenado)"
	header := make([]interface{}, len(outHeaders))
	for i, h := range outHeaders {
		header[i] = h
	}
	if err := wb.ReplaceSheet(scratch); err != nil {
		return nil, err
	}
	if err := wb.SetRow(scratch, 1, header); err != nil {
		return nil, err
	}

	rowsCopied := 0
	for r := 1; r < len(srcRows); r++ {
		row := make([]interface{}, len(srcColsForOut))
		for i, srcCol := range srcColsForOut {
			if srcCol == 0 {
				row[i] = ""
			} else {
				row[i] = cellAt(srcRows[r], srcCol)
			}
		}
		if err := wb.SetRow(scratch, r+1, row); err != nil {
			return nil, err
		}
		rowsCopied++
	}

	tabIndex, err := wb.File().GetSheetIndex(sheet)
	if err != nil {
		tabIndex = -1
	}
	if err := wb.File().DeleteSheet(sheet); err != nil {
		return nil, common.NewStorageError("sheet_delete", fmt.Sprintf("cannot delete sheet %q", sheet)).WithCause(err)
	}
	if err := wb.File().SetSheetName(scratch, sheet); err != nil {
		return nil, common.NewStorageError("sheet_rename", fmt.Sprintf("cannot rename sheet %q", scratch)).WithCause(err)
	}
	if tabIndex >= 0 {
		restoreTabPosition(wb, sheet, tabIndex)
	}

	s.log.Info().
		Int("rows", rowsCopied).
		Int("columns", len(outHeaders)).
		Str("sheet", sheet).
		Msg("Reorder completed")

	return &ReorderResult{RowsCopied: rowsCopied, OutColumns: len(outHeaders)}, nil
}

// restoreTabPosition moves the sheet back to its original tab index.
// Best-effort: the rebuilt data matters, the tab order is cosmetic.
func restoreTabPosition(wb *Workbook, sheet string, index int) {
	sheets := wb.File().GetSheetList()
	if index >= len(sheets) {
		return
	}
	target := sheets[index]
	if target == sheet {
		return
	}
	if err := wb.File().MoveSheet(sheet, target); err != nil {
		common.GetLogger().Debug().Err(err).Str("sheet", sheet).Msg("Could not restore tab position")
	}
}
