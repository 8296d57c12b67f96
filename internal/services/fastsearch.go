package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
)

const fastSearchResultSelector = "#fast_search_result"

var fastSearchInputCandidates = []string{
	"body > div.splynx-wrapper > div.sidebar-wrapper > div > div.sidebar-content > div > div.search-wrapper > div > input",
	"div.search-wrapper input",
}

var fastSearchToggleCandidates = []string{
	"body > div.splynx-wrapper > div.splynx-header > ul > li:nth-child(2)",
	"div.splynx-header ul li:has(i.fa-search)",
	"div.splynx-header ul li:has(i.fa.fa-search)",
	"div.splynx-header :is(a,button):has(i.fa-search)",
	"div.splynx-header :is(a,button):has-text('Search')",
}

var hrefIDRe = regexp.MustCompile(`[?&]id=(\d+)`)

// fastSearch drives the portal's global search panel: open, clear, fill,
// and pick the right result row for a customer or a ticket.
type fastSearch struct {
	loc *Locators
	log arbor.ILogger
}

func newFastSearch(loc *Locators) *fastSearch {
	return &fastSearch{loc: loc, log: common.GetLogger()}
}

func (f *fastSearch) page() playwright.Page { return f.loc.Page() }

// isOpen reports whether the search input is visible. The header button is
// a toggle, so clicking it while open would close the panel.
func (f *fastSearch) isOpen() bool {
	for _, sel := range fastSearchInputCandidates {
		loc := f.page().Locator(sel).First()
		if count, err := loc.Count(); err == nil && count > 0 {
			if visible, err := loc.IsVisible(); err == nil && visible {
				return true
			}
		}
	}
	return false
}

func (f *fastSearch) open() {
	if f.isOpen() {
		return
	}
	_ = f.loc.ClickAny(fastSearchToggleCandidates, 6000)
}

func (f *fastSearch) waitInputVisible(window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if f.isOpen() {
			return true
		}
		f.page().WaitForTimeout(200)
	}
	return false
}

func (f *fastSearch) clear() {
	_ = f.loc.ClickAny(fastSearchInputCandidates, 3000)
	_ = f.loc.FillAny(fastSearchInputCandidates, "", 3000)
}

// Fill opens the panel, clears any previous query and types the ID. When the
// input never shows up it escalates: dismiss overlays, reopen, and finally
// reload the page once.
func (f *fastSearch) Fill(id string) error {
	f.open()
	if !f.waitInputVisible(6 * time.Second) {
		f.loc.DismissOverlays()
		f.open()
	}
	if !f.waitInputVisible(6 * time.Second) {
		// The sidebar occasionally wedges after many lookups; a reload
		// usually restores it.
		if _, err := f.page().Reload(playwright.PageReloadOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			f.log.Warn().Err(err).Msg("Reload while reopening fast search failed")
		}
		f.page().WaitForTimeout(400)
		f.open()
	}
	if !f.waitInputVisible(10 * time.Second) {
		return common.NewTransientError("fast_search_closed", "fast search input is not visible")
	}

	f.page().WaitForTimeout(150)
	f.clear()

	if err := f.loc.ClickAny(fastSearchInputCandidates, 5000); err != nil {
		return err
	}
	if err := f.loc.FillAny(fastSearchInputCandidates, id, 5000); err != nil {
		return err
	}
	// Some builds need Enter to trigger the query.
	_ = f.loc.PressAny(fastSearchInputCandidates, "Enter", 2000)
	return nil
}

func (f *fastSearch) resultRows() (playwright.Locator, bool) {
	container := f.page().Locator(fastSearchResultSelector).First()
	if err := container.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(10000),
	}); err != nil {
		return nil, false
	}
	return f.page().Locator(fastSearchResultSelector + " > tr"), true
}

// firstLine returns the first non-blank line of a result row's text.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// scoreClientRow ranks a search result row as a customer profile candidate.
// The profile row starts with "Cliente"; service, invoice and document rows
// mention the same ID and must lose.
func scoreClientRow(first, all string) int {
	score := 10
	if strings.HasPrefix(first, "cliente") {
		score += 100
	}
	if strings.Contains(first, "servicio") || strings.Contains(first, "invoice") ||
		strings.Contains(first, "recibo") || strings.Contains(first, "pago") ||
		strings.Contains(first, "documento") {
		score -= 50
	}
	if strings.Contains(first, "cliente:") {
		score += 20
	}
	if strings.Contains(all, "servicio de internet") {
		score -= 25
	}
	return score
}

// scoreTicketRow ranks a search result row as a ticket candidate.
func scoreTicketRow(first, all string) int {
	score := 10
	if strings.Contains(all, "ticket") {
		score += 80
	}
	if strings.HasPrefix(first, "ticket") || strings.HasPrefix(first, "closed ticket") || strings.HasPrefix(first, "open ticket") {
		score += 50
	}
	if strings.Contains(first, "cliente") || strings.Contains(all, "cliente") {
		score -= 30
	}
	if strings.Contains(first, "pago") || strings.Contains(first, "invoice") ||
		strings.Contains(first, "recibo") || strings.Contains(first, "documento") {
		score -= 40
	}
	return score
}

// exactIDPattern matches the wanted digits not embedded in a longer number,
// so 313118 never matches inside 2313118.
func exactIDPattern(digits string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^0-9])` + regexp.QuoteMeta(digits) + `($|[^0-9])`)
}

func clickResilient(loc playwright.Locator) error {
	if err := loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(5000)}); err == nil {
		return nil
	}
	if err := loc.Click(playwright.LocatorClickOptions{Force: playwright.Bool(true), Timeout: playwright.Float(5000)}); err == nil {
		return nil
	}
	_, err := loc.Evaluate("el => el.click()", nil)
	return err
}

// PickClient selects the customer profile row for the given ID, preferring
// rows whose first line starts with "Cliente".
func (f *fastSearch) PickClient(customerID string) bool {
	digits := common.IDKey(customerID)
	if digits == "" {
		return false
	}

	rows, ok := f.resultRows()
	if !ok {
		return false
	}

	deadline := time.Now().Add(12 * time.Second)
	for {
		if count, err := rows.Count(); err == nil && count > 0 {
			break
		}
		if time.Now().After(deadline) {
			return false
		}
		f.page().WaitForTimeout(200)
	}

	count, err := rows.Count()
	if err != nil {
		return false
	}
	if count > 30 {
		count = 30
	}

	bestIdx := -1
	bestScore := -1 << 30
	for i := 0; i < count; i++ {
		text, err := rows.Nth(i).InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(2000)})
		if err != nil {
			continue
		}
		compact := common.CollapseSpaces(text)
		if !strings.Contains(compact, digits) {
			continue
		}
		first := common.NormText(firstLine(text))
		all := common.NormText(compact)
		if score := scoreClientRow(first, all); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		candidates := []string{
			fmt.Sprintf("%s > tr:has-text('Cliente:'):has-text('%s') a", fastSearchResultSelector, digits),
			fmt.Sprintf("%s > tr:has-text('Cliente:'):has-text('%s') td", fastSearchResultSelector, digits),
			fmt.Sprintf("%s > tr:has-text('%s') a", fastSearchResultSelector, digits),
			fmt.Sprintf("%s > tr:has-text('%s') td", fastSearchResultSelector, digits),
		}
		return f.loc.ClickAny(candidates, 5000) == nil
	}

	row := rows.Nth(bestIdx)
	if err := clickResilient(row.Locator("td").First()); err == nil {
		return true
	}
	return clickResilient(row) == nil
}

// PickTicket selects the ticket row for the given ID. A link whose href
// carries ?id=<wanted> exactly wins outright; otherwise rows are scored by
// text.
func (f *fastSearch) PickTicket(ticketID string) bool {
	digits := common.IDKey(ticketID)
	if digits == "" {
		return false
	}

	rows, ok := f.resultRows()
	if !ok {
		return false
	}

	wantedRe := exactIDPattern(digits)

	rowHasExactID := func(i int) bool {
		row := rows.Nth(i)
		links := row.Locator("a")
		linkCount, err := links.Count()
		if err == nil {
			if linkCount > 8 {
				linkCount = 8
			}
			for j := 0; j < linkCount; j++ {
				href, err := links.Nth(j).GetAttribute("href")
				if err != nil || href == "" {
					continue
				}
				if !strings.Contains(href, "ticket") {
					continue
				}
				if m := hrefIDRe.FindStringSubmatch(href); m != nil && m[1] == digits {
					return true
				}
			}
		}
		text, err := row.InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(2000)})
		if err != nil {
			return false
		}
		return wantedRe.MatchString(common.CollapseSpaces(text))
	}

	// Wait for at least one row that genuinely belongs to this ticket.
	deadline := time.Now().Add(15 * time.Second)
	found := false
	for !found {
		if time.Now().After(deadline) {
			return false
		}
		count, err := rows.Count()
		if err != nil {
			count = 0
		}
		if count > 60 {
			count = 60
		}
		for i := 0; i < count; i++ {
			if rowHasExactID(i) {
				found = true
				break
			}
		}
		if !found {
			f.page().WaitForTimeout(250)
		}
	}

	// Absolute priority: a ticket link with the exact ?id=.
	count, _ := rows.Count()
	if count > 60 {
		count = 60
	}
	for i := 0; i < count; i++ {
		links := rows.Nth(i).Locator("a")
		linkCount, err := links.Count()
		if err != nil {
			continue
		}
		if linkCount > 10 {
			linkCount = 10
		}
		for j := 0; j < linkCount; j++ {
			href, err := links.Nth(j).GetAttribute("href")
			if err != nil || href == "" || !strings.Contains(href, "ticket") {
				continue
			}
			if m := hrefIDRe.FindStringSubmatch(href); m != nil && m[1] == digits {
				if clickResilient(links.Nth(j)) == nil {
					return true
				}
			}
		}
	}

	bestIdx := -1
	bestScore := -1 << 30
	if count > 40 {
		count = 40
	}
	for i := 0; i < count; i++ {
		text, err := rows.Nth(i).InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(2000)})
		if err != nil {
			continue
		}
		compact := common.CollapseSpaces(text)
		if !wantedRe.MatchString(compact) {
			continue
		}
		first := common.NormText(firstLine(text))
		all := common.NormText(compact)
		if score := scoreTicketRow(first, all); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		candidates := []string{
			fmt.Sprintf("%s > tr:has-text('%s'):has-text('ticket') td", fastSearchResultSelector, digits),
			fmt.Sprintf("%s > tr:has-text('%s'):has-text('Ticket') td", fastSearchResultSelector, digits),
			fastSearchResultSelector + " > tr:nth-child(2) > td",
		}
		return f.loc.ClickAny(candidates, 5000) == nil
	}

	// Prefer a link inside the winning row whose href carries the ID.
	row := rows.Nth(bestIdx)
	links := row.Locator("a")
	if linkCount, err := links.Count(); err == nil {
		if linkCount > 10 {
			linkCount = 10
		}
		for j := 0; j < linkCount; j++ {
			href, err := links.Nth(j).GetAttribute("href")
			if err != nil || href == "" {
				continue
			}
			if m := hrefIDRe.FindStringSubmatch(href); m != nil && m[1] == digits {
				if clickResilient(links.Nth(j)) == nil {
					return true
				}
			}
		}
	}

	if err := clickResilient(row.Locator("td").First()); err == nil {
		return true
	}
	return clickResilient(row) == nil
}
