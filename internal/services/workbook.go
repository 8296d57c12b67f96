package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"splynx-collector/internal/common"
)

// Workbook wraps an excelize file with the save discipline the collectors
// need: atomic saves via temp-and-rename, a one-time backup, and header
// lookups tolerant of case/accent/whitespace drift.
type Workbook struct {
	file *excelize.File
	path string
}

// OpenWorkbook opens an existing workbook, classifying locked and corrupt
// files with typed errors.
func OpenWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NewStructuralError("workbook_missing", fmt.Sprintf("workbook not found: %s", path)).WithCause(err)
		}
		if common.IsLocked(err) {
			return nil, common.NewLockedError("workbook_locked",
				fmt.Sprintf("workbook %s is open in another application; close it and retry", path)).WithCause(err)
		}
		return nil, common.NewStructuralError("workbook_corrupt", fmt.Sprintf("cannot open workbook %s", path)).WithCause(err)
	}
	return &Workbook{file: f, path: path}, nil
}

// OpenOrCreateWorkbook opens path, creating a new workbook when it does not
// exist yet.
func OpenOrCreateWorkbook(path string) (*Workbook, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, common.NewStorageError("workbook_dir", "cannot create workbook directory").WithCause(err)
			}
		}
		return &Workbook{file: excelize.NewFile(), path: path}, nil
	}
	return OpenWorkbook(path)
}

func (w *Workbook) Path() string         { return w.path }
func (w *Workbook) File() *excelize.File { return w.file }

func (w *Workbook) Close() error {
	return w.file.Close()
}

// HasSheet reports whether the workbook contains the named sheet.
func (w *Workbook) HasSheet(name string) bool {
	for _, s := range w.file.GetSheetList() {
		if s == name {
			return true
		}
	}
	return false
}

// Rows returns all rows of a sheet as text, or a structural error when the
// sheet is missing.
func (w *Workbook) Rows(sheet string) ([][]string, error) {
	if !w.HasSheet(sheet) {
		return nil, common.NewStructuralError("sheet_missing", fmt.Sprintf("sheet %q not found", sheet))
	}
	rows, err := w.file.GetRows(sheet)
	if err != nil {
		return nil, common.NewStructuralError("sheet_unreadable", fmt.Sprintf("cannot read sheet %q", sheet)).WithCause(err)
	}
	return rows, nil
}

// HeaderIndex maps normalized header names in row 1 to their 1-based column
// numbers. On duplicate headers the first occurrence wins.
func HeaderIndex(headerRow []string) map[string]int {
	idx := make(map[string]int, len(headerRow))
	for i, h := range headerRow {
		key := common.NormHeader(h)
		if key == "" {
			continue
		}
		if _, exists := idx[key]; !exists {
			idx[key] = i + 1
		}
	}
	return idx
}

// HeaderColumn finds the 1-based column for a header name, 0 when absent.
func HeaderColumn(headerRow []string, name string) int {
	return HeaderIndex(headerRow)[common.NormHeader(name)]
}

// SetRow writes values into a sheet starting at column 1 of the given
// 1-based row.
func (w *Workbook) SetRow(sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return w.file.SetSheetRow(sheet, cell, &values)
}

// SetCell writes one value at the given 1-based coordinates.
func (w *Workbook) SetCell(sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return w.file.SetCellValue(sheet, cell, value)
}

// ReplaceSheet deletes the named sheet if present and recreates it empty.
// The extractor and merge writers replace sheets wholesale so reruns never
// leave stale rows behind.
func (w *Workbook) ReplaceSheet(name string) error {
	if w.HasSheet(name) {
		if err := w.file.DeleteSheet(name); err != nil {
			return common.NewStorageError("sheet_delete", fmt.Sprintf("cannot delete sheet %q", name)).WithCause(err)
		}
	}
	if _, err := w.file.NewSheet(name); err != nil {
		return common.NewStorageError("sheet_create", fmt.Sprintf("cannot create sheet %q", name)).WithCause(err)
	}
	return nil
}

// WriteSheet replaces a sheet and fills it with a header row plus data rows.
func (w *Workbook) WriteSheet(name string, header []interface{}, rows [][]interface{}) error {
	if err := w.ReplaceSheet(name); err != nil {
		return err
	}
	if err := w.SetRow(name, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := w.SetRow(name, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the workbook atomically: write to a temp file in the same
// directory, then rename over the target. A reader never observes a
// half-written workbook. SaveAs rejects targets without a workbook
// extension, so the temp file is written through File.Write.
func (w *Workbook) Save() error {
	tmp, err := os.CreateTemp(filepath.Dir(w.path), filepath.Base(w.path)+".tmp-*")
	if err != nil {
		return common.NewStorageError("workbook_tmp", "cannot create temp workbook").WithCause(err)
	}
	tmpPath := tmp.Name()

	if err := w.file.Write(tmp); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return common.NewStorageError("workbook_save", "cannot save workbook").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return common.NewStorageError("workbook_save", "cannot save workbook").WithCause(err)
	}

	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		if common.IsLocked(err) {
			return common.NewLockedError("workbook_locked",
				fmt.Sprintf("workbook %s is open in another application; close it and retry", w.path)).WithCause(err)
		}
		return common.NewStorageError("workbook_rename", "cannot replace workbook").WithCause(err)
	}
	return nil
}

// EnsureBackup copies the workbook to <path>.bak once; an existing backup is
// left untouched so it always reflects the state before the first mutation.
func EnsureBackup(path string) error {
	bak := path + ".bak"
	if _, err := os.Stat(bak); err == nil {
		return nil
	}
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	dst, err := os.Create(bak)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
