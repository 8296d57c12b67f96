package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
	"splynx-collector/internal/interfaces"
)

// EnrichResult summarizes one enrichment pass.
type EnrichResult struct {
	Found    int
	NotFound int
	Merge    *MergeResult
}

// EnrichService backfills customers that the merge could not match: it
// derives the unique join IDs from the not-found sheet, looks each one up in
// the portal's fast search, extracts the partner and residence from the
// profile, upserts them into the customers sheet and re-runs the merge.
type EnrichService struct {
	loc    *Locators
	search *fastSearch
	merge  *MergeService
	sink   interfaces.ProgressSink
	log    arbor.ILogger
}

func NewEnrichService(loc *Locators, sink interfaces.ProgressSink) *EnrichService {
	return &EnrichService{
		loc:    loc,
		search: newFastSearch(loc),
		merge:  NewMergeService(),
		sink:   sink,
		log:    common.GetLogger(),
	}
}

func (e *EnrichService) progress(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if e.sink != nil {
		e.sink.Progress(msg)
	}
	e.log.Info().Msg(msg)
}

// ReadMissingIDs derives the unique customer IDs to look up from the
// not-found sheet, applying the same join-key priority as the merge.
func ReadMissingIDs(path string) ([]string, error) {
	wb, err := OpenWorkbook(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	rows, err := wb.Rows(SheetNotFound)
	if err != nil {
		return nil, common.NewStructuralError("not_found_missing",
			fmt.Sprintf("sheet %q not found; run the merge first", SheetNotFound)).WithCause(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := HeaderIndex(rows[0])
	cReporterID := idx[common.NormHeader("Reporter ID")]
	cReporterType := idx[common.NormHeader("Reporter type")]
	cIDCliente := idx[common.NormHeader("ID Cliente")]
	if cReporterID == 0 && cIDCliente == 0 {
		return nil, common.NewStructuralError("join_column_missing",
			fmt.Sprintf("neither %q nor %q found in %q", "Reporter ID", "ID Cliente", SheetNotFound))
	}

	var ids []string
	seen := make(map[string]bool)
	for r := 1; r < len(rows); r++ {
		reporterID := ""
		if cReporterID > 0 {
			reporterID = common.IDKey(cellAt(rows[r], cReporterID))
		}
		reporterType := ""
		if cReporterType > 0 {
			reporterType = common.NormText(cellAt(rows[r], cReporterType))
		}
		idCliente := ""
		if cIDCliente > 0 {
			idCliente = common.IDKey(cellAt(rows[r], cIDCliente))
		}

		joinID := ""
		switch {
		case reporterType == "customer" && reporterID != "":
			joinID = reporterID
		case idCliente != "":
			joinID = idCliente
		case reporterID != "":
			joinID = reporterID
		}

		if joinID != "" && !seen[joinID] {
			seen[joinID] = true
			ids = append(ids, joinID)
		}
	}
	return ids, nil
}

// resumeIndex locates the checkpointed ID in the lookup list and returns the
// position to continue from. A finished or unmatched checkpoint (for example
// one left behind by a date collection pass) restarts from the top.
func resumeIndex(ids []string, cp *interfaces.Checkpoint) int {
	if cp == nil || cp.Done || cp.LastTicketID == "" {
		return 0
	}
	for i, cid := range ids {
		if cid == cp.LastTicketID {
			return i + 1
		}
	}
	return 0
}

// Run executes the enrichment pass against the workbook at path.
func (e *EnrichService) Run(path string) (*EnrichResult, error) {
	ids, err := ReadMissingIDs(path)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		e.progress("Búsqueda/enriquecimiento: no hay IDs para buscar.")
		return &EnrichResult{}, nil
	}

	e.progress("Búsqueda/enriquecimiento: %d IDs únicos por buscar...", len(ids))

	cp, err := LoadCheckpoint(path)
	if err != nil {
		return nil, err
	}

	result := &EnrichResult{}
	startIndex := resumeIndex(ids, cp)
	if startIndex > 0 {
		result.Found = cp.Updated
		result.NotFound = cp.Failed
		e.progress("Búsqueda/enriquecimiento: reanudando desde el ID %s (posición %d/%d).",
			cp.LastTicketID, startIndex, len(ids))
	}

	for idx := startIndex; idx < len(ids); idx++ {
		cid := ids[idx]
		n := idx + 1
		e.progress("[%d/%d] Buscando cliente ID %s...", n, len(ids), cid)

		if err := e.lookupAndUpsert(path, cid); err != nil {
			if common.IsLocked(err) {
				return result, err
			}
			e.progress("[%d/%d] ID %s: %v", n, len(ids), cid, err)
			result.NotFound++
			e.loc.Page().WaitForTimeout(250)
		} else {
			result.Found++
			e.loc.Page().WaitForTimeout(350)
		}

		if err := SaveCheckpoint(path, &interfaces.Checkpoint{
			LastRowIdx:   n,
			LastTicketID: cid,
			Updated:      result.Found,
			Failed:       result.NotFound,
		}); err != nil {
			e.log.Warn().Err(err).Msg("Could not save checkpoint")
		}

		if n%10 == 0 || n == len(ids) {
			e.progress("Búsqueda/enriquecimiento: progreso %d/%d. Con datos: %d, sin datos: %d.",
				n, len(ids), result.Found, result.NotFound)
		}
	}

	if err := SaveCheckpoint(path, &interfaces.Checkpoint{
		Done:    true,
		Updated: result.Found,
		Failed:  result.NotFound,
	}); err != nil {
		e.log.Warn().Err(err).Msg("Could not save final checkpoint")
	}

	e.progress("Búsqueda/enriquecimiento: relanzando merge para actualizar '%s'...", SheetMerged)
	mergeResult, err := e.merge.MergeFile(path)
	if err != nil {
		return result, err
	}
	result.Merge = mergeResult
	e.progress("OK: merge actualizado. Tickets: %d, coincidencias: %d, no encontrados: %d.",
		mergeResult.TicketsTotal, mergeResult.Joined, mergeResult.NotFound)
	return result, nil
}

func (e *EnrichService) lookupAndUpsert(path, customerID string) error {
	beforeURL := e.loc.Page().URL()

	if err := e.search.Fill(customerID); err != nil {
		return err
	}
	e.loc.Page().WaitForTimeout(300)
	if !e.search.PickClient(customerID) {
		return common.NewNotFoundError("profile_pick", "no se pudo seleccionar el perfil (no encontrado o ambiguo)", nil)
	}

	// Best-effort wait for the navigation to actually happen.
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if e.loc.Page().URL() != beforeURL {
			break
		}
		e.loc.Page().WaitForTimeout(200)
	}

	digits := common.IDKey(customerID)
	if !e.waitProfileLoaded(digits, 25*time.Second) {
		return common.NewTimeoutError("profile_load", "timeout esperando el perfil", nil)
	}

	e.ensureInfoTab()
	e.loc.Page().WaitForTimeout(300)

	_ = e.loc.WaitVisibleAny([]string{
		fmt.Sprintf("#select2-customers-partner_id-id-%s-container", digits),
		fmt.Sprintf("#customers-additional_attributes-res_urb-id-%s", digits),
	}, 8000)

	socio := e.extractPartner(digits)
	residencia := e.extractResidence(digits)

	if socio == "" {
		socio = e.extractValueByLabel([]string{"Socio", "Partner", "Socio:"})
	}
	if residencia == "" {
		residencia = e.extractValueByLabel([]string{
			"Residencia/Urbanización", "Residencia", "Urbanización", "Urbanizacion",
			"Dirección", "Direccion", "Address",
		})
	}

	if socio == "" && residencia == "" {
		return common.NewNotFoundError("profile_fields", "perfil abierto pero no se pudieron leer los campos", nil)
	}

	if err := upsertCustomerMinimal(path, customerID, socio, residencia); err != nil {
		return err
	}
	e.progress("ID %s: OK (Socio='%s', Residencia='%s').", customerID, dashIfEmpty(socio), dashIfEmpty(residencia))
	return nil
}

// waitProfileLoaded waits until the open profile belongs to the wanted ID,
// not a stale view of the previous customer.
func (e *EnrichService) waitProfileLoaded(digits string, window time.Duration) bool {
	if digits == "" {
		return false
	}
	selectors := []string{
		fmt.Sprintf("#select2-customers-partner_id-id-%s-container", digits),
		fmt.Sprintf("#customers-additional_attributes-res_urb-id-%s", digits),
	}

	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		url := e.loc.Page().URL()
		if strings.Contains(url, "customers/view") && strings.Contains(url, "id="+digits) {
			return true
		}
		if e.loc.WaitVisibleAny(selectors, 1000) == nil {
			return true
		}
		e.loc.Page().WaitForTimeout(200)
	}
	return false
}

// ensureInfoTab forces the profile's Información tab; some navigations land
// on the services section where the fields do not exist.
func (e *EnrichService) ensureInfoTab() {
	_ = e.loc.ClickAny([]string{
		"a:has-text('Información')",
		"li:has-text('Información') a",
		"text=Información",
		"a:has-text('Informacion')",
		"text=Informacion",
	}, 4000)
}

// extractPartner reads the partner select2 display value, preferring the
// ID-suffixed selector for the current profile.
func (e *EnrichService) extractPartner(digits string) string {
	if digits != "" {
		if v, err := e.loc.TextAny([]string{fmt.Sprintf("#select2-customers-partner_id-id-%s-container", digits)}, 5000); err == nil {
			if trimmed := common.CollapseSpaces(v); trimmed != "" {
				return trimmed
			}
		}
	}
	generic := []string{
		"#admin_customers_view_form span[id^='select2-customers-partner_id-id-'][id$='-container']",
		"span[id^='select2-customers-partner_id-id-'][id$='-container']",
		"[id^='select2-customers-partner_id-id-'][id$='-container']",
	}
	if v, err := e.loc.TextAny(generic, 5000); err == nil {
		return common.CollapseSpaces(v)
	}
	return ""
}

// extractResidence reads the residence input value.
func (e *EnrichService) extractResidence(digits string) string {
	read := func(sel string) string {
		for _, scope := range e.loc.tryScopes() {
			loc := scope.Locator(sel).First()
			count, err := loc.Count()
			if err != nil || count == 0 {
				continue
			}
			if v, err := loc.InputValue(playwright.LocatorInputValueOptions{Timeout: playwright.Float(2000)}); err == nil {
				if trimmed := common.CollapseSpaces(v); trimmed != "" {
					return trimmed
				}
			}
			if v, err := loc.GetAttribute("value"); err == nil {
				if trimmed := common.CollapseSpaces(v); trimmed != "" {
					return trimmed
				}
			}
		}
		return ""
	}

	if digits != "" {
		if v := read(fmt.Sprintf("#customers-additional_attributes-res_urb-id-%s", digits)); v != "" {
			return v
		}
	}
	for _, sel := range []string{
		"#admin_customers_view_form input[id^='customers-additional_attributes-res_urb-id-']",
		"input[id^='customers-additional_attributes-res_urb-id-']",
		"[id^='customers-additional_attributes-res_urb-id-']",
	} {
		if v := read(sel); v != "" {
			return v
		}
	}
	return ""
}

// extractValueByLabel walks the profile DOM looking for a labeled value:
// table rows, definition lists, label[for] inputs and labeled siblings.
// Last-resort fallback when the ID-suffixed selectors change.
func (e *EnrichService) extractValueByLabel(labels []string) string {
	const script = `(el, labels) => {
		const doc = el && el.ownerDocument ? el.ownerDocument : document;
		const clean = (s) => String(s || '').replace(/\s+/g, ' ').trim();
		const norm = (s) => clean(s).toLowerCase().normalize('NFD').replace(/\p{Diacritic}/gu, '');
		const wants = (labels || []).map(norm).filter(Boolean);
		if (!wants.length) return '';

		const nodes = Array.from(doc.querySelectorAll('th,td,dt,dd,label,div,span'));
		for (const node of nodes) {
			const t = norm(node.textContent || '');
			if (!t) continue;
			let hit = false;
			for (const w of wants) {
				if (t === w || t === w + ':' || t.startsWith(w + ':') || t.includes(w)) { hit = true; break; }
			}
			if (!hit) continue;

			const tr = node.closest('tr');
			if (tr) {
				const tds = Array.from(tr.querySelectorAll('td'));
				if (tds.length) {
					const v = clean(tds[tds.length - 1].innerText || tds[tds.length - 1].textContent);
					if (v && norm(v) !== t) return v;
				}
			}
			if (node.tagName && node.tagName.toLowerCase() === 'dt') {
				const dd = node.nextElementSibling;
				if (dd && dd.tagName && dd.tagName.toLowerCase() === 'dd') {
					const v = clean(dd.innerText || dd.textContent);
					if (v) return v;
				}
			}
			const forId = node.getAttribute && node.getAttribute('for');
			if (forId) {
				const inp = doc.getElementById(forId);
				if (inp) {
					const v = clean(inp.value || inp.textContent);
					if (v) return v;
				}
			}
			const sib = node.nextElementSibling;
			if (sib) {
				const v = clean(sib.innerText || sib.textContent);
				if (v) return v;
			}
		}
		return '';
	}`

	for _, scope := range e.loc.tryScopes() {
		for _, anchor := range []string{"body", "html"} {
			root := scope.Locator(anchor).First()
			count, err := root.Count()
			if err != nil || count == 0 {
				continue
			}
			val, err := root.Evaluate(script, labels)
			if err != nil {
				continue
			}
			if s, ok := val.(string); ok {
				if trimmed := common.CollapseSpaces(s); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return ""
}

// upsertCustomerMinimal writes a minimal customer row (ID, partner,
// residence) into the customers sheet, updating in place when the ID
// already exists.
func upsertCustomerMinimal(path, customerID, socio, residencia string) error {
	cidKey := common.IDKey(customerID)
	if cidKey == "" {
		return nil
	}

	wb, err := OpenOrCreateWorkbook(path)
	if err != nil {
		return err
	}
	defer wb.Close()

	if !wb.HasSheet(SheetCustomers) {
		if _, err := wb.File().NewSheet(SheetCustomers); err != nil {
			return common.NewStorageError("sheet_create", fmt.Sprintf("cannot create sheet %q", SheetCustomers)).WithCause(err)
		}
	}

	rows, err := wb.Rows(SheetCustomers)
	if err != nil {
		return err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		if err := wb.SetRow(SheetCustomers, 1, []interface{}{"ID", "Socio", "Residencia/Urbanización"}); err != nil {
			return err
		}
		rows, err = wb.Rows(SheetCustomers)
		if err != nil {
			return err
		}
	}

	headers := rows[0]
	nextCol := len(headers)
	ensureCol := func(name string) (int, error) {
		if col := HeaderColumn(headers, name); col > 0 {
			return col, nil
		}
		nextCol++
		if err := wb.SetCell(SheetCustomers, nextCol, 1, name); err != nil {
			return 0, err
		}
		headers = append(headers, name)
		return nextCol, nil
	}

	cID, err := ensureCol("ID")
	if err != nil {
		return err
	}
	cSocio, err := ensureCol("Socio")
	if err != nil {
		return err
	}
	cRes, err := ensureCol("Residencia/Urbanización")
	if err != nil {
		return err
	}

	targetRow := 0
	for r := 1; r < len(rows); r++ {
		if common.IDKey(cellAt(rows[r], cID)) == cidKey {
			targetRow = r + 1
			break
		}
	}
	if targetRow == 0 {
		targetRow = len(rows) + 1
		if err := wb.SetCell(SheetCustomers, cID, targetRow, cidKey); err != nil {
			return err
		}
	}

	if socio != "" {
		if err := wb.SetCell(SheetCustomers, cSocio, targetRow, socio); err != nil {
			return err
		}
	}
	if residencia != "" {
		if err := wb.SetCell(SheetCustomers, cRes, targetRow, residencia); err != nil {
			return err
		}
	}

	return wb.Save()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
