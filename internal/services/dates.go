package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"splynx-collector/internal/common"
	"splynx-collector/internal/interfaces"
)

const (
	escalationHeader = "Fecha Escalamiento (O&M)"
	resolvedHeader   = "Resuelto"
	closedHeader     = "Fecha Cierre (closed)"

	maxDateAttempts  = 3
	saveEveryUpdates = 10
	saveEveryElapsed = 30 * time.Second
)

// DateCollectResult summarizes one date collection pass.
type DateCollectResult struct {
	Updated int
	Skipped int
	Failed  int
}

// DateCollector walks the merged sheet and, for every ticket missing one of
// the escalation/resolution/closure dates, looks the ticket up in the live
// portal, reads its activity history and writes the dates back. Progress is
// checkpointed after every row so an interrupted pass resumes where it
// stopped.
type DateCollector struct {
	loc    *Locators
	search *fastSearch
	reader *activityReader
	sink   interfaces.ProgressSink
	log    arbor.ILogger
}

func NewDateCollector(loc *Locators, sink interfaces.ProgressSink) *DateCollector {
	return &DateCollector{
		loc:    loc,
		search: newFastSearch(loc),
		reader: &activityReader{loc: loc},
		sink:   sink,
		log:    common.GetLogger(),
	}
}

func (d *DateCollector) progress(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if d.sink != nil {
		d.sink.Progress(msg)
	}
	d.log.Info().Msg(msg)
}

// isMissingValue treats blank and N/A markers as absent.
func isMissingValue(v string) bool {
	t := strings.ToLower(strings.TrimSpace(v))
	return t == "" || t == "n/a" || t == "na"
}

// findHeaderExact matches a header by trimmed case-insensitive equality.
func findHeaderExact(headers []string, name string) int {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, h := range headers {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return i + 1
		}
	}
	return 0
}

// Run executes the collection pass over the merged sheet of the workbook at
// path.
func (d *DateCollector) Run(path string) (*DateCollectResult, error) {
	wb, err := OpenOrCreateWorkbook(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	if !wb.HasSheet(SheetMerged) {
		return nil, common.NewStructuralError("merged_missing",
			fmt.Sprintf("sheet %q not found; run the merge first", SheetMerged))
	}

	rows, err := wb.Rows(SheetMerged)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, common.NewStructuralError("merged_empty", fmt.Sprintf("sheet %q is empty", SheetMerged))
	}

	headers := rows[0]
	idCol := findHeaderExact(headers, "ID")
	if idCol == 0 {
		return nil, common.NewStructuralError("column_missing", fmt.Sprintf("column %q not found in %q", "ID", SheetMerged))
	}

	escCol, resCol, cieCol, err := d.ensureDateColumns(wb, headers)
	if err != nil {
		return nil, err
	}
	// Column changes shift cells; re-read the sheet.
	rows, err = wb.Rows(SheetMerged)
	if err != nil {
		return nil, err
	}

	type ticketRow struct {
		rowIdx int
		id     string
	}
	var tickets []ticketRow
	for r := 1; r < len(rows); r++ {
		if tid := common.IDKey(cellAt(rows[r], idCol)); tid != "" {
			tickets = append(tickets, ticketRow{rowIdx: r + 1, id: tid})
		}
	}
	if len(tickets) == 0 {
		return nil, common.NewStructuralError("no_ids", fmt.Sprintf("no valid IDs found in %q", SheetMerged))
	}

	total := len(tickets)
	d.progress("Fechas Esc/Cie: iniciando recolección para %d tickets...", total)

	if err := EnsureBackup(path); err != nil {
		d.log.Warn().Err(err).Msg("Could not create workbook backup")
	}

	cp, err := LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}
	result := &DateCollectResult{}
	startIndex := 0
	if cp.LastRowIdx > 0 && !cp.Done {
		for i, t := range tickets {
			if t.rowIdx == cp.LastRowIdx {
				startIndex = i + 1
				break
			}
		}
		if startIndex > 0 {
			// Continue the interrupted run's counters so the final totals
			// match an uninterrupted pass.
			result.Updated = cp.Updated
			result.Skipped = cp.Skipped
			result.Failed = cp.Failed
			d.progress("Fechas Esc/Cie: reanudando desde fila %d (posición %d/%d).", cp.LastRowIdx, startIndex, total)
		}
	}

	saveRowCheckpoint := func(t ticketRow) {
		if err := SaveCheckpoint(path, &interfaces.Checkpoint{
			LastRowIdx:   t.rowIdx,
			LastTicketID: t.id,
			Updated:      result.Updated,
			Skipped:      result.Skipped,
			Failed:       result.Failed,
		}); err != nil {
			d.log.Warn().Err(err).Msg("Could not save checkpoint")
		}
	}

	lastSave := time.Now()

	for i := startIndex; i < len(tickets); i++ {
		t := tickets[i]
		existingEsc := cellAt(rows[t.rowIdx-1], escCol)
		existingRes := cellAt(rows[t.rowIdx-1], resCol)
		existingCie := cellAt(rows[t.rowIdx-1], cieCol)

		if !isMissingValue(existingEsc) && !isMissingValue(existingRes) && !isMissingValue(existingCie) {
			result.Skipped++
			saveRowCheckpoint(t)
			continue
		}

		d.progress("Fechas Esc/Cie: [%d/%d] Ticket %s...", i+1, total, t.id)

		escDT, resDT, closeDT, lastErr := d.collectWithRetries(t.id)

		if lastErr == nil {
			escOut := orNA(escDT)
			resOut := orNA(resDT)
			closeOut := orNA(closeDT)

			if isMissingValue(existingEsc) {
				if err := wb.SetCell(SheetMerged, escCol, t.rowIdx, escOut); err != nil {
					return result, err
				}
			}
			if isMissingValue(existingRes) {
				if err := wb.SetCell(SheetMerged, resCol, t.rowIdx, resOut); err != nil {
					return result, err
				}
			}
			if isMissingValue(existingCie) {
				if err := wb.SetCell(SheetMerged, cieCol, t.rowIdx, closeOut); err != nil {
					return result, err
				}
			}
			result.Updated++
			d.progress("Fechas Esc/Cie: Ticket %s: Esc(O&M)=%s, Resuelto=%s, Cierre(closed)=%s.",
				t.id, okOrNo(escDT), okOrNo(resDT), okOrNo(closeDT))
		} else {
			result.Failed++
			d.progress("Fechas Esc/Cie: Ticket %s: error: %v", t.id, lastErr)
		}

		// Checkpoint regardless of outcome so a crash resumes nearby.
		saveRowCheckpoint(t)

		if (result.Updated+result.Failed)%saveEveryUpdates == 0 || time.Since(lastSave) > saveEveryElapsed {
			if err := wb.Save(); err != nil {
				if common.IsLocked(err) {
					d.progress("Fechas Esc/Cie: no pude guardar el Excel (está abierto/bloqueado). Cierra el archivo y reintenta.")
					return result, err
				}
				return result, err
			}
			lastSave = time.Now()
		}
	}

	if err := wb.Save(); err != nil {
		if common.IsLocked(err) {
			d.progress("Fechas Esc/Cie: no pude guardar el Excel al final (está abierto/bloqueado). Cierra el archivo y reintenta.")
		}
		return result, err
	}

	if err := SaveCheckpoint(path, &interfaces.Checkpoint{
		Done:    true,
		Updated: result.Updated,
		Skipped: result.Skipped,
		Failed:  result.Failed,
	}); err != nil {
		d.log.Warn().Err(err).Msg("Could not save final checkpoint")
	}

	d.progress("Fechas Esc/Cie: terminado. Actualizados: %d, saltados: %d, fallos: %d.",
		result.Updated, result.Skipped, result.Failed)
	return result, nil
}

// ensureDateColumns guarantees the three date columns exist, with
// "Resuelto" sitting between escalation and closure when closure already
// exists. Returns their 1-based indices.
func (d *DateCollector) ensureDateColumns(wb *Workbook, headers []string) (escCol, resCol, cieCol int, err error) {
	maxCol := len(headers)
	escCol = findHeaderExact(headers, escalationHeader)
	resCol = findHeaderExact(headers, resolvedHeader)
	cieCol = findHeaderExact(headers, closedHeader)

	if escCol == 0 {
		maxCol++
		escCol = maxCol
		if err = wb.SetCell(SheetMerged, escCol, 1, escalationHeader); err != nil {
			return
		}
	}

	if resCol == 0 {
		if cieCol > 0 {
			var colName string
			colName, err = excelize.ColumnNumberToName(cieCol)
			if err != nil {
				return
			}
			if err = wb.File().InsertCols(SheetMerged, colName, 1); err != nil {
				err = common.NewStorageError("insert_column", "cannot insert the Resuelto column").WithCause(err)
				return
			}
			resCol = cieCol
			cieCol++
			maxCol++
			if err = wb.SetCell(SheetMerged, resCol, 1, resolvedHeader); err != nil {
				return
			}
		} else {
			maxCol++
			resCol = maxCol
			if err = wb.SetCell(SheetMerged, resCol, 1, resolvedHeader); err != nil {
				return
			}
		}
	}

	if cieCol == 0 {
		maxCol++
		cieCol = maxCol
		if err = wb.SetCell(SheetMerged, cieCol, 1, closedHeader); err != nil {
			return
		}
	}
	return
}

// collectWithRetries runs one ticket lookup with up to three attempts on
// transient failures, recovering the page between attempts.
func (d *DateCollector) collectWithRetries(ticketID string) (esc, res, closed string, lastErr error) {
	for attempt := 1; attempt <= maxDateAttempts; attempt++ {
		esc, res, closed, lastErr = d.collectForTicket(ticketID)
		if lastErr == nil {
			return
		}
		if attempt >= maxDateAttempts || !common.IsTransient(lastErr) {
			return
		}
		d.progress("Fechas Esc/Cie: Ticket %s: reintento %d/%d por error: %v", ticketID, attempt, maxDateAttempts, lastErr)
		d.loc.Recover()
		time.Sleep(2 * time.Second)
	}
	return
}

// collectForTicket looks one ticket up via fast search, opens its activity
// history and extracts the three event timestamps.
func (d *DateCollector) collectForTicket(ticketID string) (string, string, string, error) {
	tid := strings.TrimSpace(ticketID)
	if tid == "" {
		return "", "", "", nil
	}

	if err := d.search.Fill(tid); err != nil {
		return "", "", "", err
	}
	d.loc.Page().WaitForTimeout(400)
	if !d.search.PickTicket(tid) {
		return "", "", "", common.NewTransientError("fast_search_pick", "fast search did not yield the ticket")
	}

	d.loc.Page().WaitForTimeout(250)

	digits := common.IDKey(tid)
	if digits != "" {
		if !d.reader.waitTicketViewLoaded(digits, 35*time.Second) {
			return "", "", "", common.NewTimeoutError("ticket_view", "timeout waiting for the ticket view", nil)
		}
	}

	// The search can leave a modal on top that blocks the sidebar.
	d.loc.DismissOverlays()
	d.loc.Refresh()
	scope := d.loc.scope

	if err := d.reader.ensureActivitiesVisible(scope, digits, 30*time.Second); err != nil {
		return "", "", "", err
	}

	blocks := d.reader.waitBlocksLoaded(scope, 25*time.Second, 1)
	if blocks <= 0 {
		return "", "", "", common.NewTransientError("activities_empty", "activity history did not render")
	}
	d.progress("Fechas Esc/Cie: Ticket %s: activities cargadas (%d bloques).", tid, blocks)

	escDT := d.reader.lastMatchingDatetime(scope, matchesEscalation)
	resDT := d.reader.lastMatchingDatetime(scope, matchesResolved)
	closeDT := d.reader.lastMatchingDatetime(scope, matchesClosed)

	// Closed tickets often lazy-load the tail of the history where the
	// closing event lives.
	if closeDT == "" || resDT == "" {
		d.progress("Fechas Esc/Cie: Ticket %s: cargando más activities para validar cierre/resuelto...", tid)
		d.reader.loadMoreByScrolling()
		if resDT == "" {
			resDT = d.reader.lastMatchingDatetime(scope, matchesResolved)
		}
		closeDT = d.reader.lastMatchingDatetime(scope, matchesClosed)
	}

	return escDT, resDT, closeDT, nil
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}

func okOrNo(v string) string {
	if v == "" {
		return "NO"
	}
	return "OK"
}
