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

const (
	ticketsTableSelector      = "#admin_support_tickets_opened_list"
	ticketsPaginateSelector   = "#admin_support_tickets_opened_list_paginate"
	customersTableSelector    = "#admin_customers_list"
	customersPaginateSelector = "#admin_customers_list_paginate"

	applyClickWindow  = 900 * time.Second
	reloadWaitWindow  = 180 * time.Second
	pageSettleDelayMS = 1200
	stepSettleDelayMS = 600
)

// columnSpec is one logical output column: the header written to the sheet,
// the live-header texts that resolve it (language variants included), and
// whether the cell holds a prefixed identifier code to normalize.
type columnSpec struct {
	Name    string
	Aliases []string
	IDLike  bool
}

// ticketColumns is the output column set of the tickets sheet. Absent
// columns are written empty for every row.
var ticketColumns = []columnSpec{
	{Name: "ID", Aliases: []string{"id", "nº", "no."}, IDLike: true},
	{Name: "Tema", Aliases: []string{"tema", "subject"}},
	{Name: "Customer/Lead", Aliases: []string{"customer/lead", "cliente/lead", "customer / lead"}},
	{Name: "Prioridad", Aliases: []string{"prioridad", "priority"}},
	{Name: "Estado", Aliases: []string{"estado", "status"}},
	{Name: "Group", Aliases: []string{"group", "grupo"}},
	{Name: "Tipo", Aliases: []string{"tipo", "type"}},
	{Name: "Asignado a", Aliases: []string{"asignado a", "assigned to"}},
	{Name: "Watching", Aliases: []string{"watching", "observando"}},
	{Name: "Labels", Aliases: []string{"labels", "etiquetas"}},
	{Name: "Reporter", Aliases: []string{"reporter", "reportero"}},
	{Name: "Reporter ID", Aliases: []string{"reporter id", "id reporter", "id de reporter"}, IDLike: true},
	{Name: "Reporter type", Aliases: []string{"reporter type", "tipo de reporter", "tipo reporter"}},
	{Name: "ID Cliente", Aliases: []string{"id cliente", "id de cliente", "customer id"}, IDLike: true},
	{Name: "Incoming Customer", Aliases: []string{"incoming customer", "cliente entrante"}},
	{Name: "Hide", Aliases: []string{"hide", "ocultar"}},
	{Name: "Task", Aliases: []string{"task", "tarea"}},
	{Name: "Estrella", Aliases: []string{"estrella", "star"}},
	{Name: "Creado (fecha y hora)", Aliases: []string{"creado (fecha y hora)", "creado", "created"}},
	{Name: "Source", Aliases: []string{"source", "origen"}},
	{Name: "Actualizado (fecha y hora)", Aliases: []string{"actualizado (fecha y hora)", "actualizado", "updated"}},
	{Name: "Archive", Aliases: []string{"archive", "archivo"}},
	{Name: "Shareable", Aliases: []string{"shareable", "compartible"}},
	{Name: "Note", Aliases: []string{"note", "nota"}},
	{Name: "Sub-tipo de Ticket", Aliases: []string{"sub-tipo de ticket", "subtipo de ticket", "ticket sub-type"}},
	{Name: "Categoria del Cierre", Aliases: []string{"categoria del cierre", "categoría del cierre", "closing category"}},
	{Name: "Promocion", Aliases: []string{"promocion", "promoción", "promotion"}},
}

// customerColumns is the output column set of the customers sheet.
var customerColumns = []columnSpec{
	{Name: "ID", Aliases: []string{"id", "nº"}, IDLike: true},
	{Name: "Nombre", Aliases: []string{"nombre", "name", "nombre completo", "full name"}},
	{Name: "Login", Aliases: []string{"login", "usuario"}},
	{Name: "Servicio usuario", Aliases: []string{"servicio usuario", "servicio de usuario", "user service"}},
	{Name: "Socio", Aliases: []string{"socio", "partner"}},
	{Name: "Residencia/Urbanización", Aliases: []string{"residencia/urbanizacion", "residencia / urbanizacion", "residencia", "urbanizacion", "residence"}},
	{Name: "Estado", Aliases: []string{"estado", "status"}},
}

var applyButtonCandidates = []string{
	"#admin_support_tickets_opened_search_block > div > div > div > button.btn.btn-primary.ms-4.advanced-filter-apply-button",
	"#admin_support_tickets_opened_search_block button.btn.btn-primary.advanced-filter-apply-button",
	"button.advanced-filter-apply-button:has-text('Aplicar')",
	"button.advanced-filter-apply-button:has-text('Apply')",
}

// TableExtractor walks a paginated portal table and writes its rows into a
// workbook sheet, replacing the sheet wholesale so reruns never accumulate
// duplicates.
type TableExtractor struct {
	loc  *Locators
	cfg  *common.PortalConfig
	sink interfaces.ProgressSink
	log  arbor.ILogger
}

func NewTableExtractor(loc *Locators, cfg *common.PortalConfig, sink interfaces.ProgressSink) *TableExtractor {
	return &TableExtractor{loc: loc, cfg: cfg, sink: sink, log: common.GetLogger()}
}

func (e *TableExtractor) progress(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if e.sink != nil {
		e.sink.Progress(msg)
	}
	e.log.Info().Msg(msg)
}

// ExtractTickets navigates to the ticket list (per configured or default
// steps) and extracts every page into the tickets sheet. In manual mode the
// operator sets the filters and presses Apply; extraction starts after that
// click.
func (e *TableExtractor) ExtractTickets(wb *Workbook, mode string) (int, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "auto"
	}

	steps := e.configuredSteps("tickets")

	if mode == "manual" {
		e.progress("Tickets (manual): navegando a Tickets > List...")
		if err := e.runSteps(ticketNavSteps()); err != nil {
			return 0, err
		}
		e.loc.Refresh()

		e.progress("Tickets (manual): abre 'Filter', coloca tus filtros y presiona 'Aplicar'. La extracción empezará después de ese clic.")
		marker := e.firstRowMarker(ticketsTableSelector)
		if err := e.waitForApplyClick(applyClickWindow); err != nil {
			return 0, err
		}
		e.waitForTableReload(ticketsTableSelector, marker, reloadWaitWindow)
	} else {
		if len(steps) == 0 {
			steps = ticketFilterSteps()
		}
		e.progress("Ejecutando navegación previa para tickets...")
		if err := e.runSteps(steps); err != nil {
			return 0, err
		}
	}

	e.loc.Refresh()
	e.progress("Extrayendo datos de Tickets a Excel...")
	e.loc.Page().WaitForTimeout(pageSettleDelayMS)

	rows, err := e.extractAllPages(ticketsTableSelector, ticketsPaginateSelector, ticketColumns)
	if err != nil {
		return 0, err
	}
	if err := writeExtracted(wb, SheetTickets, ticketColumns, rows); err != nil {
		return 0, err
	}
	e.progress("OK: %d filas de tickets exportadas a %s", len(rows), wb.Path())
	return len(rows), nil
}

// ExtractCustomers navigates to the customer list and extracts every page
// into the customers sheet.
func (e *TableExtractor) ExtractCustomers(wb *Workbook) (int, error) {
	steps := e.configuredSteps("customers")
	if len(steps) == 0 {
		steps = customerNavSteps()
	}

	e.progress("Ejecutando navegación previa para clientes...")
	if err := e.runSteps(steps); err != nil {
		return 0, err
	}

	e.loc.Refresh()
	e.progress("Extrayendo datos de Clientes a Excel...")
	e.loc.Page().WaitForTimeout(pageSettleDelayMS)

	rows, err := e.extractAllPages(customersTableSelector, customersPaginateSelector, customerColumns)
	if err != nil {
		return 0, err
	}
	if err := writeExtracted(wb, SheetCustomers, customerColumns, rows); err != nil {
		return 0, err
	}
	e.progress("OK: %d filas de clientes exportadas a %s", len(rows), wb.Path())
	return len(rows), nil
}

func (e *TableExtractor) configuredSteps(table string) []common.Step {
	if e.cfg == nil {
		return nil
	}
	if tc, ok := e.cfg.Tables[table]; ok {
		return tc.Steps
	}
	return nil
}

func (e *TableExtractor) runSteps(steps []common.Step) error {
	now := time.Now()
	for _, step := range steps {
		if err := e.loc.RunStep(step, now); err != nil {
			return err
		}
		e.loc.Page().WaitForTimeout(stepSettleDelayMS)
	}
	return nil
}

// extractAllPages walks the table page by page until the next button is
// disabled or the empty-state marker appears.
func (e *TableExtractor) extractAllPages(tableSel, paginateSel string, cols []columnSpec) ([][]interface{}, error) {
	var out [][]interface{}
	var indices []int
	pageNum := 1

	for {
		table := e.loc.scope.Locator(tableSel).First()
		if err := table.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(30000),
		}); err != nil {
			return nil, common.NewTimeoutError("table_visible", "table did not become visible", []string{tableSel})
		}

		fragment, err := table.InnerHTML()
		if err != nil {
			return nil, common.NewTransientError("table_read", "cannot read table content").WithCause(err)
		}
		parsed, err := common.ParseTable("<table>" + fragment + "</table>")
		if err != nil {
			return nil, common.NewTransientError("table_parse", "cannot parse table content").WithCause(err)
		}

		if indices == nil {
			indices = resolveColumns(parsed.Headers, cols)
		}

		empty := false
		for _, row := range parsed.Rows {
			if row.EmptyMarker {
				empty = true
				break
			}
			values := buildRow(row.Cells, indices, cols)
			if values != nil {
				out = append(out, values)
			}
		}
		if empty {
			e.progress("Página %d: tabla vacía, fin de la extracción", pageNum)
			break
		}
		e.progress("Página %d extraída (%d filas acumuladas)", pageNum, len(out))

		hasNext, err := e.clickNextPage(tableSel, paginateSel)
		if err != nil {
			return nil, err
		}
		if !hasNext {
			break
		}
		pageNum++
	}

	return out, nil
}

// clickNextPage clicks the pagination "next" control unless it is disabled,
// then waits for the table to reload. Returns false when there is no next
// page.
func (e *TableExtractor) clickNextPage(tableSel, paginateSel string) (bool, error) {
	nextSel := paginateSel + " a.paginate_button.next, " + paginateSel + " li.next a, " + paginateSel + " .next"
	next := e.loc.scope.Locator(nextSel).First()

	count, err := next.Count()
	if err != nil || count == 0 {
		return false, nil
	}

	class, err := next.GetAttribute("class")
	if err == nil && nextButtonDisabled(class) {
		return false, nil
	}
	parentClass, err := next.Evaluate("el => (el.parentElement && el.parentElement.className) || ''", nil)
	if err == nil {
		if pc, ok := parentClass.(string); ok && nextButtonDisabled(pc) {
			return false, nil
		}
	}

	marker := e.firstRowMarker(tableSel)
	if err := next.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(10000)}); err != nil {
		if _, jsErr := next.Evaluate("el => el.click()", nil); jsErr != nil {
			return false, common.NewTransientError("next_page_click", "cannot click next page").WithCause(err)
		}
	}
	e.waitForTableReload(tableSel, marker, 30*time.Second)
	return true, nil
}

// nextButtonDisabled reports whether a pagination control's class marks it
// disabled.
func nextButtonDisabled(class string) bool {
	for _, token := range strings.Fields(class) {
		if token == "disabled" {
			return true
		}
	}
	return false
}

// firstRowMarker captures the collapsed text of the table's first body row,
// used to detect a reload.
func (e *TableExtractor) firstRowMarker(tableSel string) string {
	row := e.loc.scope.Locator(tableSel + " tbody tr").First()
	if count, err := row.Count(); err != nil || count == 0 {
		return ""
	}
	text, err := row.InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(3000)})
	if err != nil {
		return ""
	}
	return common.CollapseSpaces(text)
}

// waitForTableReload waits for the processing overlay to clear, the first
// row to change, or the window to lapse. Some reloads show no overlay and
// keep the same first row, so lapsing is not an error.
func (e *TableExtractor) waitForTableReload(tableSel, startMarker string, window time.Duration) {
	deadline := time.Now().Add(window)
	sawProcessing := false

	for time.Now().Before(deadline) {
		proc := e.loc.scope.Locator("div.dataTables_processing").First()
		if count, err := proc.Count(); err == nil && count > 0 {
			if visible, err := proc.IsVisible(); err == nil && visible {
				sawProcessing = true
				e.loc.Page().WaitForTimeout(pollIntervalMS)
				continue
			}
		}

		table := e.loc.scope.Locator(tableSel).First()
		if count, err := table.Count(); err == nil && count > 0 {
			rows := e.loc.scope.Locator(tableSel + " tbody tr")
			if rowCount, err := rows.Count(); err == nil && rowCount > 0 {
				emptyCell := e.loc.scope.Locator(tableSel + " tbody tr td.dataTables_empty")
				if emptyCount, err := emptyCell.Count(); err == nil && emptyCount > 0 {
					return
				}
				if sawProcessing {
					return
				}
				if startMarker != "" && e.firstRowMarker(tableSel) != startMarker {
					return
				}
			}
		}

		if startMarker != "" && e.firstRowMarker(tableSel) != startMarker {
			return
		}
		e.loc.Page().WaitForTimeout(pollIntervalMS)
	}
}

// waitForApplyClick installs a capture-phase click counter on the filter
// Apply button and polls it until the operator presses the button. The
// button can be re-rendered while the operator works, so the listener is
// re-bound when evaluation starts failing.
func (e *TableExtractor) waitForApplyClick(window time.Duration) error {
	deadline := time.Now().Add(window)

	const bindJS = `el => {
		try { window.__applyClicks = 0; } catch (e) {}
		if (!el.__applyBound) {
			el.__applyBound = true;
			el.addEventListener('click', () => { window.__applyClicks = (window.__applyClicks || 0) + 1; }, true);
		}
	}`

	findButton := func() playwright.Locator {
		for _, scope := range e.loc.tryScopes() {
			for _, sel := range applyButtonCandidates {
				loc := scope.Locator(sel).First()
				if count, err := loc.Count(); err == nil && count > 0 {
					return loc
				}
			}
		}
		return nil
	}

	var button playwright.Locator
	for time.Now().Before(deadline) {
		if button == nil {
			button = findButton()
			if button == nil {
				e.loc.Page().WaitForTimeout(500)
				continue
			}
			if _, err := button.Evaluate(bindJS, nil); err != nil {
				button = nil
				e.loc.Page().WaitForTimeout(500)
				continue
			}
		}

		clicks, err := button.Evaluate("el => window.__applyClicks || 0", nil)
		if err != nil {
			// Button re-rendered; find and bind again.
			button = nil
			continue
		}
		if n, ok := clicks.(int); ok && n > 0 {
			return nil
		}
		if f, ok := clicks.(float64); ok && f > 0 {
			return nil
		}
		e.loc.Page().WaitForTimeout(pollIntervalMS)
	}

	return common.NewTimeoutError("apply_click", "operator did not press Apply in time", applyButtonCandidates)
}

// resolveColumns maps each output column to a 1-based index in the live
// header row, 0 when no alias matches.
func resolveColumns(headers []string, cols []columnSpec) []int {
	headerIdx := make(map[string]int, len(headers))
	for i, h := range headers {
		key := common.NormHeader(h)
		if key == "" {
			continue
		}
		if _, exists := headerIdx[key]; !exists {
			headerIdx[key] = i + 1
		}
	}

	indices := make([]int, len(cols))
	for i, col := range cols {
		if idx, ok := headerIdx[common.NormHeader(col.Name)]; ok {
			indices[i] = idx
			continue
		}
		for _, alias := range col.Aliases {
			if idx, ok := headerIdx[common.NormHeader(alias)]; ok {
				indices[i] = idx
				break
			}
		}
	}
	return indices
}

// buildRow assembles one output row, or nil when every cell is empty.
func buildRow(cells []string, indices []int, cols []columnSpec) []interface{} {
	values := make([]interface{}, len(cols))
	allEmpty := true
	for i, idx := range indices {
		text := ""
		if idx > 0 && idx <= len(cells) {
			text = common.CollapseSpaces(cells[idx-1])
		}
		if cols[i].IDLike {
			text = NormalizeCode(text)
		}
		if text != "" {
			allEmpty = false
		}
		values[i] = text
	}
	if allEmpty {
		return nil
	}
	return values
}

// NormalizeCode strips alpha prefixes from composite identifier codes like
// "R135921", keeping the longest digit run. Text without digits passes
// through untouched.
func NormalizeCode(text string) string {
	if key := common.IDKey(text); key != "" {
		return key
	}
	return text
}

func writeExtracted(wb *Workbook, sheet string, cols []columnSpec, rows [][]interface{}) error {
	header := make([]interface{}, len(cols))
	for i, col := range cols {
		header[i] = col.Name
	}
	if err := wb.WriteSheet(sheet, header, rows); err != nil {
		return err
	}
	return nil
}

// ticketNavSteps are the shared navigation steps to the ticket list: the
// Tickets menu, its List entry, and the quick access preset set to "All
// tickets".
func ticketNavSteps() []common.Step {
	return []common.Step{
		common.ClickStep("body > div.splynx-wrapper > div.main > nav > div > div > div.sidebar-menu > div > div.menu-list > div:nth-child(4) > div > a||xpath=/html/body/div[2]/div[3]/nav/div/div/div[2]/div/div[1]/div[4]/div/a"),
		common.ClickStep("body > div.splynx-wrapper > div.main > nav > div > div > div.sidebar-menu > div > div.menu-list > div:nth-child(4) > div > div > div:nth-child(2) > div > a||xpath=/html/body/div[2]/div[3]/nav/div/div/div[2]/div/div[1]/div[4]/div/div/div[2]/div/a"),
		common.ClickStep("#select2-admin_support_tickets_opened_filter_quick_access-container||xpath=//*[@id='select2-admin_support_tickets_opened_filter_quick_access-container']"),
		common.ClickStep("li[id^='select2-admin_support_tickets_opened_filter_quick_access-result-']:has-text('All tickets')||xpath=//li[starts-with(@id,'select2-admin_support_tickets_opened_filter_quick_access-result-')][contains(.,'All tickets')]||text=All tickets"),
	}
}

// ticketFilterSteps extends the navigation with the default auto-mode
// filters: condition All, group and partner set to any, the period range
// committed, then Apply once enabled.
func ticketFilterSteps() []common.Step {
	dropdownSearch := "body > span > span > span.select2-search.select2-search--dropdown > input||xpath=/html/body/span/span/span[1]/input"
	periodInput := "#admin_support_tickets_opened_search_widget_created_at||xpath=//*[@id='admin_support_tickets_opened_search_widget_created_at']"
	applyButton := strings.Join(applyButtonCandidates, "||")

	steps := ticketNavSteps()
	steps = append(steps,
		common.ClickStep("#content > div > div.splynx-top-nav > div.filters-nav > div > div:nth-child(6) > button||xpath=//*[@id='content']/div/div[1]/div[2]/div/div[6]/button||text=Filter"),
		common.ClickStep("#select2-admin_support_tickets_opened_search_widget_condition-container||xpath=//*[@id='select2-admin_support_tickets_opened_search_widget_condition-container']"),
		common.ClickStep("li[id^='select2-admin_support_tickets_opened_search_widget_condition-result-']:has-text('All')||li[id^='select2-admin_support_tickets_opened_search_widget_condition-result-']:has-text('Todos')||text=All||text=Todos"),
		common.ClickStep("#select2-admin_support_tickets_opened_search_widget_group_id-container||xpath=//*[@id='select2-admin_support_tickets_opened_search_widget_group_id-container']"),
		common.FillStep(dropdownSearch, "Cualquiera"),
		common.ClickStep("#select2-admin_support_tickets_opened_search_widget_group_id-results li.select2-results__option--highlighted||#select2-admin_support_tickets_opened_search_widget_group_id-results li.select2-results__option:has-text('Cualquiera')||#select2-admin_support_tickets_opened_search_widget_group_id-results li.select2-results__option:has-text('Any')"),
		common.ClickStep("#select2-admin_support_tickets_opened_search_widget_partner_id-container||xpath=//*[@id='select2-admin_support_tickets_opened_search_widget_partner_id-container']"),
		common.FillStep(dropdownSearch, "Cualquiera"),
		common.ClickStep("#select2-admin_support_tickets_opened_search_widget_partner_id-results li.select2-results__option--highlighted||#select2-admin_support_tickets_opened_search_widget_partner_id-results li.select2-results__option:has-text('Cualquiera')||#select2-admin_support_tickets_opened_search_widget_partner_id-results li.select2-results__option:has-text('Any')"),
		common.Step{Action: "wait_nonempty", Selectors: common.SplitCandidates(periodInput), TimeoutMS: 300000},
		common.Step{Action: "press", Selectors: common.SplitCandidates(periodInput), Key: "Tab"},
		common.Step{Action: "wait_enabled", Selectors: common.SplitCandidates(applyButton), TimeoutMS: 120000},
		common.ClickStep(applyButton),
	)
	return steps
}

// customerNavSteps open the customer list: the Customers menu and its List
// entry.
func customerNavSteps() []common.Step {
	return []common.Step{
		common.ClickStep("body > div.splynx-wrapper > div.main > nav > div > div > div.sidebar-menu > div > div.menu-list > div:nth-child(2) > div > a"),
		common.ClickStep("body > div.splynx-wrapper > div.main > nav > div > div > div.sidebar-menu > div > div.menu-list > div:nth-child(2) > div > div > div:nth-child(2) > div > a||xpath=/html/body/div[2]/div[3]/nav/div/div/div[2]/div/div[1]/div[2]/div/div/div[2]/div/a"),
	}
}
