package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"splynx-collector/internal/common"
)

const (
	activityBlocksSelector  = "div[id^='opened-ticket-message-']"
	activityHeadingSelector = "div.comment-heading div.comment-title-wrapper span"
	maxActivityBlocks       = 400

	activityDatetimeLayout = "02/01/2006 15:04"
)

var (
	// Timestamps usually appear parenthesized in the heading; the bare form
	// is the fallback.
	parenDatetimeRe = regexp.MustCompile(`\((\d{2}/\d{2}/\d{4}\s+\d{1,2}:\d{2}:\d{2}\s*(?:AM|PM)?)\)`)
	bareDatetimeRe  = regexp.MustCompile(`(\d{2}/\d{2}/\d{4}\s+\d{1,2}:\d{2}:\d{2}\s*(?:AM|PM)?)`)

	activityDatetimeFormats = []string{
		"02/01/2006 3:04:05 PM",
		"02/01/2006 15:04:05",
		"02/01/2006 3:04:05PM",
		"02/01/2006 15:04",
		"02/01/2006 3:04 PM",
	}
)

// ParseActivityDatetime extracts the latest parseable timestamp from an
// activity entry's text. Parenthesized candidates are preferred; candidates
// are tried last-first because the heading puts the absolute time after the
// relative one.
func ParseActivityDatetime(s string) (time.Time, bool) {
	text := strings.TrimSpace(s)
	if text == "" {
		return time.Time{}, false
	}

	var candidates []string
	for _, m := range parenDatetimeRe.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	if len(candidates) == 0 {
		for _, m := range bareDatetimeRe.FindAllStringSubmatch(text, -1) {
			candidates = append(candidates, m[1])
		}
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		cand := common.CollapseSpaces(candidates[i])
		if cand == "" {
			continue
		}
		for _, layout := range activityDatetimeFormats {
			if t, err := time.Parse(layout, cand); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// matchesEscalation detects a group change into operations & maintenance.
func matchesEscalation(norm string) bool {
	changed := strings.Contains(norm, "changed group") ||
		strings.Contains(norm, "cambiado grupo") ||
		strings.Contains(norm, "cambio grupo")
	return changed && strings.Contains(norm, "operacion y mantenimiento")
}

// matchesResolved detects a status change to "Resuelto".
func matchesResolved(norm string) bool {
	if !common.HasWord(norm, "resuelto") {
		return false
	}
	for _, k := range []string{"changed status", "status changed", "cambiado estado", "cambio estado", "cambiar el estado"} {
		if strings.Contains(norm, k) {
			return true
		}
	}
	return strings.Contains(norm, "status") || strings.Contains(norm, "estado")
}

// matchesClosed detects the ticket being closed.
func matchesClosed(norm string) bool {
	hasContext := false
	for _, k := range []string{
		"changed status", "status changed", "ticket closed", "closed ticket",
		"cambiado estado", "cambio estado", "cambiar el estado",
		"ticket cerrado", "cerrado el ticket",
	} {
		if strings.Contains(norm, k) {
			hasContext = true
			break
		}
	}
	if !hasContext {
		return false
	}
	return common.HasWord(norm, "closed") || common.HasWord(norm, "cerrado")
}

// activityReader locates a ticket's activity history and pulls event
// timestamps out of it.
type activityReader struct {
	loc *Locators
}

func (a *activityReader) page() playwright.Page { return a.loc.Page() }

func (a *activityReader) sidebarCandidates(digits string) []string {
	return []string{
		fmt.Sprintf("#admin_support_tickets_opened_sticky_sidebar_%s", digits),
		fmt.Sprintf("#admin_support_tickets_closed_sticky_sidebar_%s", digits),
		fmt.Sprintf("div[id$='_sticky_sidebar_%s']", digits),
	}
}

// waitTicketViewLoaded waits until the opened view belongs to the wanted
// ticket: its ID in the URL, or its ID-suffixed sidebar elements in the DOM.
func (a *activityReader) waitTicketViewLoaded(digits string, window time.Duration) bool {
	if digits == "" {
		return true
	}
	urlRe := regexp.MustCompile(`[?&]id=` + regexp.QuoteMeta(digits) + `($|[^0-9])`)
	selectors := append(a.sidebarCandidates(digits),
		fmt.Sprintf("#admin_support_tickets_opened_view_show_hide_activities_%s", digits),
		fmt.Sprintf("#admin_support_tickets_closed_view_show_hide_activities_%s", digits),
	)

	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if urlRe.MatchString(a.page().URL()) {
			return true
		}
		if a.loc.WaitVisibleAny(selectors, 1000) == nil {
			return true
		}
		a.page().WaitForTimeout(200)
	}
	return false
}

// openActionsDropdown opens the ticket sidebar's "Acciones" menu and
// verifies it actually opened (aria-expanded or a shown dropdown menu).
func (a *activityReader) openActionsDropdown(scope Scope, digits string, window time.Duration) error {
	candidates := []string{
		fmt.Sprintf("#admin_support_tickets_opened_sticky_sidebar_%s :is(a,button):has-text('Acciones')", digits),
		fmt.Sprintf("#admin_support_tickets_closed_sticky_sidebar_%s :is(a,button):has-text('Acciones')", digits),
		fmt.Sprintf("#admin_support_tickets_opened_sticky_sidebar_%s :is(a,button):has-text('Actions')", digits),
		fmt.Sprintf("#admin_support_tickets_closed_sticky_sidebar_%s :is(a,button):has-text('Actions')", digits),
		fmt.Sprintf("#admin_support_tickets_opened_sticky_sidebar_%s :is(a,button).dropdown-toggle", digits),
		fmt.Sprintf("#admin_support_tickets_closed_sticky_sidebar_%s :is(a,button).dropdown-toggle", digits),
		fmt.Sprintf("#admin_support_tickets_opened_sticky_sidebar_%s :is(a,button)[data-bs-toggle='dropdown']", digits),
		fmt.Sprintf("#admin_support_tickets_closed_sticky_sidebar_%s :is(a,button)[data-bs-toggle='dropdown']", digits),
	}

	var sidebar playwright.Locator
	for _, sel := range a.sidebarCandidates(digits) {
		loc := scope.Locator(sel).First()
		if count, err := loc.Count(); err == nil && count > 0 {
			if visible, err := loc.IsVisible(); err == nil && visible {
				sidebar = loc
				break
			}
		}
	}

	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		for _, sel := range candidates {
			loc := scope.Locator(sel).First()
			count, err := loc.Count()
			if err != nil || count == 0 {
				continue
			}
			if err := loc.WaitFor(playwright.LocatorWaitForOptions{
				State:   playwright.WaitForSelectorStateVisible,
				Timeout: playwright.Float(2000),
			}); err != nil {
				continue
			}
			_ = loc.ScrollIntoViewIfNeeded()
			if err := clickResilient(loc); err != nil {
				continue
			}

			check := time.Now().Add(2 * time.Second)
			for time.Now().Before(check) {
				if expanded, err := loc.GetAttribute("aria-expanded"); err == nil &&
					strings.EqualFold(strings.TrimSpace(expanded), "true") {
					return nil
				}
				if sidebar != nil {
					menu := sidebar.Locator(".dropdown-menu.show").First()
					if count, err := menu.Count(); err == nil && count > 0 {
						if visible, err := menu.IsVisible(); err == nil && visible {
							return nil
						}
					}
				}
				a.page().WaitForTimeout(100)
			}
		}
		a.page().WaitForTimeout(200)
	}

	return common.NewTimeoutError("actions_dropdown", "could not open the ticket actions dropdown", candidates)
}

// clickMenuItem clicks a dropdown menu entry. When the selector lands on the
// <li>, the real clickable is the <a> or <button> inside it.
func (a *activityReader) clickMenuItem(scope Scope, selectors []string) error {
	try := func(s Scope, sel string) bool {
		loc := s.Locator(sel).First()
		count, err := loc.Count()
		if err != nil || count == 0 {
			return false
		}
		if err := loc.WaitFor(playwright.LocatorWaitForOptions{
			State:   playwright.WaitForSelectorStateVisible,
			Timeout: playwright.Float(4000),
		}); err != nil {
			return false
		}
		_ = loc.ScrollIntoViewIfNeeded()

		target := loc
		if tag, err := loc.Evaluate("el => el.tagName.toLowerCase()", nil); err == nil {
			if name, ok := tag.(string); ok && name != "a" && name != "button" {
				child := loc.Locator("a,button").First()
				if count, err := child.Count(); err == nil && count > 0 {
					_ = child.ScrollIntoViewIfNeeded()
					target = child
				}
			}
		}
		return clickResilient(target) == nil
	}

	for _, sel := range selectors {
		if try(scope, sel) {
			return nil
		}
		if try(pageScope{page: a.page()}, sel) {
			return nil
		}
	}
	return common.NewNotFoundError("menu_item", "could not click the menu item", selectors)
}

func (a *activityReader) countBlocks(scope Scope) int {
	best := 0
	if c, err := scope.Locator(activityBlocksSelector).Count(); err == nil && c > best {
		best = c
	}
	if c, err := a.page().Locator(activityBlocksSelector).Count(); err == nil && c > best {
		best = c
	}
	return best
}

func (a *activityReader) waitBlocksLoaded(scope Scope, window time.Duration, minBlocks int) int {
	if minBlocks < 1 {
		minBlocks = 1
	}
	deadline := time.Now().Add(window)
	last := 0
	for {
		last = a.countBlocks(scope)
		if last >= minBlocks || time.Now().After(deadline) {
			return last
		}
		a.page().WaitForTimeout(pollIntervalMS)
	}
}

// ensureActivitiesVisible opens the actions dropdown and clicks "Show
// activities", verifying history blocks actually render. One full retry
// covers the dropdown swallowing the first click.
func (a *activityReader) ensureActivitiesVisible(scope Scope, digits string, window time.Duration) error {
	if digits == "" {
		return common.NewConfigurationError("ticket_id", "ticket id has no digits")
	}

	activityItems := []string{
		fmt.Sprintf("#admin_support_tickets_opened_view_show_hide_activities_%s a", digits),
		fmt.Sprintf("#admin_support_tickets_closed_view_show_hide_activities_%s a", digits),
		fmt.Sprintf("#admin_support_tickets_opened_view_show_hide_activities_%s :is(a,button)", digits),
		fmt.Sprintf("#admin_support_tickets_closed_view_show_hide_activities_%s :is(a,button)", digits),
		fmt.Sprintf("#admin_support_tickets_opened_view_show_hide_activities_%s", digits),
		fmt.Sprintf("#admin_support_tickets_closed_view_show_hide_activities_%s", digits),
		fmt.Sprintf("[id$='_view_show_hide_activities_%s'] a", digits),
		fmt.Sprintf("[id$='_view_show_hide_activities_%s'] :is(a,button)", digits),
		fmt.Sprintf("[id$='_view_show_hide_activities_%s']", digits),
	}

	openDropdown := func(w time.Duration) {
		if err := a.openActionsDropdown(scope, digits, w); err != nil {
			_ = a.openActionsDropdown(pageScope{page: a.page()}, digits, w)
		}
	}

	openDropdown(minDuration(window, 12*time.Second))
	a.page().WaitForTimeout(200)

	if a.loc.WaitVisibleAny(activityItems, 12000) != nil {
		// The first click sometimes lands on an overlay; reopen once.
		openDropdown(6 * time.Second)
		a.page().WaitForTimeout(200)
	}
	if err := a.loc.WaitVisibleAny(activityItems, 12000); err != nil {
		return common.NewNotFoundError("show_activities", "could not find 'Show activities' in the actions menu", activityItems)
	}

	if err := a.clickMenuItem(scope, activityItems); err != nil {
		return err
	}

	_ = a.page().Keyboard().Press("Escape")
	a.page().WaitForTimeout(600)

	blocks := a.waitBlocksLoaded(scope, minDuration(window, 15*time.Second), 1)
	if blocks <= 0 {
		openDropdown(6 * time.Second)
		a.page().WaitForTimeout(150)
		if err := a.clickMenuItem(scope, activityItems); err != nil {
			return err
		}
		a.page().WaitForTimeout(600)
		blocks = a.waitBlocksLoaded(scope, minDuration(window, 15*time.Second), 1)
	}
	if blocks <= 0 {
		return common.NewTransientError("activities_empty", "activity history did not load after 'Show activities'")
	}
	return nil
}

// loadMoreByScrolling nudges lazy loading of older history entries.
func (a *activityReader) loadMoreByScrolling() {
	for i := 0; i < 4; i++ {
		if err := a.page().Mouse().Wheel(0, 2200); err != nil {
			_, _ = a.page().Evaluate("() => window.scrollBy(0, 2200)")
		}
		a.page().WaitForTimeout(250)
	}
	for i := 0; i < 2; i++ {
		if err := a.page().Mouse().Wheel(0, -1200); err != nil {
			_, _ = a.page().Evaluate("() => window.scrollBy(0, -1200)")
		}
		a.page().WaitForTimeout(200)
	}
}

// lastMatchingDatetime scans the activity blocks (newest allowed cap) and
// returns the latest timestamp among entries the predicate accepts,
// formatted, or "" when none match.
func (a *activityReader) lastMatchingDatetime(scope Scope, match func(string) bool) string {
	blocks := scope.Locator(activityBlocksSelector)
	if count, err := blocks.Count(); err != nil || count == 0 {
		blocks = a.page().Locator(activityBlocksSelector)
	}

	count, err := blocks.Count()
	if err != nil {
		return ""
	}
	if count > maxActivityBlocks {
		count = maxActivityBlocks
	}

	var best time.Time
	bestStr := ""

	for i := 0; i < count; i++ {
		blk := blocks.Nth(i)
		// TextContent reads collapsed blocks that InnerText would skip.
		text, err := blk.TextContent(playwright.LocatorTextContentOptions{Timeout: playwright.Float(2000)})
		if err != nil {
			continue
		}
		if !match(common.NormText(text)) {
			continue
		}

		raw := ""
		for _, sel := range []string{activityHeadingSelector, "div.comment-heading span"} {
			if v, err := blk.Locator(sel).First().TextContent(playwright.LocatorTextContentOptions{Timeout: playwright.Float(1500)}); err == nil {
				if trimmed := strings.TrimSpace(v); trimmed != "" {
					raw = trimmed
					break
				}
			}
		}

		dt, ok := ParseActivityDatetime(raw)
		if !ok {
			// The heading occasionally omits the timestamp; the block body
			// still carries it.
			dt, ok = ParseActivityDatetime(text)
		}
		if !ok {
			continue
		}
		if bestStr == "" || dt.After(best) {
			best = dt
			bestStr = dt.Format(activityDatetimeLayout)
		}
	}
	return bestStr
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
