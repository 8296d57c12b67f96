package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
)

const (
	defaultActionTimeoutMS   = 8000
	defaultNonEmptyTimeoutMS = 300000
	defaultEnabledTimeoutMS  = 120000
	pollIntervalMS           = 250
)

// contentFrameIDs are the iframes the portal renders its working area in,
// in resolution priority order.
var contentFrameIDs = []string{"opened-page", "list-page", "opened--view-page"}

// Scope is a node the locator layer resolves selectors against: the page
// itself or one of the portal's content iframes.
type Scope interface {
	Locator(selector string) playwright.Locator
}

type pageScope struct {
	page playwright.Page
}

func (s pageScope) Locator(selector string) playwright.Locator {
	return s.page.Locator(selector)
}

type frameScope struct {
	frame playwright.FrameLocator
}

func (s frameScope) Locator(selector string) playwright.Locator {
	return s.frame.Locator(selector)
}

// Locators resolves "||"-separated selector candidates against the page's
// active content scope, escalating interaction strategies before failing.
type Locators struct {
	page    playwright.Page
	scope   Scope
	inFrame bool
	log     arbor.ILogger
}

func NewLocators(page playwright.Page) *Locators {
	l := &Locators{page: page, log: common.GetLogger()}
	l.Refresh()
	return l
}

// Refresh re-resolves the active scope. Call after navigation: the portal
// swaps content iframes in and out between views.
func (l *Locators) Refresh() {
	l.scope, l.inFrame = resolveScope(l.page)
}

// Page returns the underlying page for callers that need direct access
// (keyboard, mouse, reload).
func (l *Locators) Page() playwright.Page {
	return l.page
}

func resolveScope(page playwright.Page) (Scope, bool) {
	for _, id := range contentFrameIDs {
		sel := "#" + id
		loc := page.Locator(sel)
		count, err := loc.Count()
		if err != nil || count == 0 {
			continue
		}
		tag, err := loc.First().Evaluate("el => el.tagName.toLowerCase()", nil)
		if err != nil {
			continue
		}
		if name, ok := tag.(string); ok && name == "iframe" {
			return frameScope{frame: page.FrameLocator(sel)}, true
		}
	}
	return pageScope{page: page}, false
}

// tryScopes yields the active scope, then the root page scope once as a
// fallback when the active scope is an iframe. Some portal controls (modals,
// search overlays) render outside the content frame.
func (l *Locators) tryScopes() []Scope {
	if l.inFrame {
		return []Scope{l.scope, pageScope{page: l.page}}
	}
	return []Scope{l.scope}
}

func timeoutOrDefault(timeoutMS, def int) float64 {
	if timeoutMS <= 0 {
		timeoutMS = def
	}
	return float64(timeoutMS)
}

// ClickAny clicks the first resolvable candidate, escalating per candidate:
// a plain click, then a forced click, then a JavaScript click.
func (l *Locators) ClickAny(candidates []string, timeoutMS int) error {
	timeout := timeoutOrDefault(timeoutMS, defaultActionTimeoutMS)

	var lastErr error
	for _, scope := range l.tryScopes() {
		for _, sel := range candidates {
			loc := scope.Locator(sel).First()
			if err := loc.WaitFor(playwright.LocatorWaitForOptions{
				State:   playwright.WaitForSelectorStateVisible,
				Timeout: playwright.Float(timeout),
			}); err != nil {
				lastErr = err
				continue
			}

			if err := loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(timeout)}); err == nil {
				return nil
			}
			if err := loc.Click(playwright.LocatorClickOptions{
				Force:   playwright.Bool(true),
				Timeout: playwright.Float(timeout),
			}); err == nil {
				l.log.Debug().Str("selector", sel).Msg("Click succeeded with force")
				return nil
			}
			if _, err := loc.Evaluate("el => el.click()", nil); err == nil {
				l.log.Debug().Str("selector", sel).Msg("Click succeeded via JavaScript")
				return nil
			} else {
				lastErr = err
			}
		}
	}

	return common.NewNotFoundError("click_failed", "no candidate could be clicked", candidates).WithCause(lastErr)
}

// FillAny clears and fills the first resolvable candidate.
func (l *Locators) FillAny(candidates []string, text string, timeoutMS int) error {
	timeout := timeoutOrDefault(timeoutMS, defaultActionTimeoutMS)

	var lastErr error
	for _, scope := range l.tryScopes() {
		for _, sel := range candidates {
			loc := scope.Locator(sel).First()
			if err := loc.WaitFor(playwright.LocatorWaitForOptions{
				State:   playwright.WaitForSelectorStateVisible,
				Timeout: playwright.Float(timeout),
			}); err != nil {
				lastErr = err
				continue
			}
			if err := loc.Fill(text, playwright.LocatorFillOptions{Timeout: playwright.Float(timeout)}); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
	}

	return common.NewNotFoundError("fill_failed", fmt.Sprintf("no candidate accepted text %q", text), candidates).WithCause(lastErr)
}

// PressAny sends a key to the first resolvable candidate.
func (l *Locators) PressAny(candidates []string, key string, timeoutMS int) error {
	timeout := timeoutOrDefault(timeoutMS, defaultActionTimeoutMS)

	var lastErr error
	for _, scope := range l.tryScopes() {
		for _, sel := range candidates {
			loc := scope.Locator(sel).First()
			if err := loc.Press(key, playwright.LocatorPressOptions{Timeout: playwright.Float(timeout)}); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
	}

	return common.NewNotFoundError("press_failed", fmt.Sprintf("no candidate accepted key %q", key), candidates).WithCause(lastErr)
}

// WaitVisibleAny waits until any candidate becomes visible.
func (l *Locators) WaitVisibleAny(candidates []string, timeoutMS int) error {
	timeout := timeoutOrDefault(timeoutMS, defaultActionTimeoutMS)
	deadline := time.Now().Add(time.Duration(timeout) * time.Millisecond)

	for {
		for _, scope := range l.tryScopes() {
			for _, sel := range candidates {
				visible, err := scope.Locator(sel).First().IsVisible()
				if err == nil && visible {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return common.NewTimeoutError("wait_visible", "no candidate became visible", candidates)
		}
		l.page.WaitForTimeout(pollIntervalMS)
	}
}

// WaitNonEmptyAny polls until any candidate holds a non-empty value. Used to
// wait for the operator (or the page) to populate a field, so the default
// window is long.
func (l *Locators) WaitNonEmptyAny(candidates []string, timeoutMS int) error {
	timeout := timeoutOrDefault(timeoutMS, defaultNonEmptyTimeoutMS)
	deadline := time.Now().Add(time.Duration(timeout) * time.Millisecond)

	for {
		for _, scope := range l.tryScopes() {
			for _, sel := range candidates {
				loc := scope.Locator(sel).First()
				if v, err := loc.InputValue(); err == nil && strings.TrimSpace(v) != "" {
					return nil
				}
				if v, err := loc.GetAttribute("value"); err == nil && strings.TrimSpace(v) != "" {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return common.NewTimeoutError("wait_nonempty", "no candidate held a non-empty value", candidates)
		}
		l.page.WaitForTimeout(pollIntervalMS)
	}
}

// WaitEnabledAny polls until any candidate is enabled. IsEnabled misses
// class-based disabling, so a JavaScript check backs it up.
func (l *Locators) WaitEnabledAny(candidates []string, timeoutMS int) error {
	timeout := timeoutOrDefault(timeoutMS, defaultEnabledTimeoutMS)
	deadline := time.Now().Add(time.Duration(timeout) * time.Millisecond)

	const enabledJS = `el => !el.disabled &&
		el.getAttribute('aria-disabled') !== 'true' &&
		!el.classList.contains('disabled')`

	for {
		for _, scope := range l.tryScopes() {
			for _, sel := range candidates {
				loc := scope.Locator(sel).First()
				enabled, err := loc.IsEnabled()
				if err != nil || !enabled {
					continue
				}
				res, err := loc.Evaluate(enabledJS, nil)
				if err != nil {
					// Visible and IsEnabled said yes; trust it.
					return nil
				}
				if ok, isBool := res.(bool); !isBool || ok {
					return nil
				}
			}
		}
		if time.Now().After(deadline) {
			return common.NewTimeoutError("wait_enabled", "no candidate became enabled", candidates)
		}
		l.page.WaitForTimeout(pollIntervalMS)
	}
}

// TextAny returns the inner text of the first resolvable candidate.
func (l *Locators) TextAny(candidates []string, timeoutMS int) (string, error) {
	timeout := timeoutOrDefault(timeoutMS, defaultActionTimeoutMS)

	var lastErr error
	for _, scope := range l.tryScopes() {
		for _, sel := range candidates {
			loc := scope.Locator(sel).First()
			if text, err := loc.InnerText(playwright.LocatorInnerTextOptions{Timeout: playwright.Float(timeout)}); err == nil {
				return text, nil
			} else {
				lastErr = err
			}
		}
	}
	return "", common.NewNotFoundError("text_failed", "no candidate yielded text", candidates).WithCause(lastErr)
}

// RunStep executes one configured navigation step.
func (l *Locators) RunStep(step common.Step, now time.Time) error {
	switch step.Action {
	case "click":
		return l.ClickAny(step.Selectors, step.TimeoutMS)
	case "fill":
		return l.FillAny(step.Selectors, common.RenderText(step.Text, now), step.TimeoutMS)
	case "press":
		return l.PressAny(step.Selectors, step.Key, step.TimeoutMS)
	case "wait_visible":
		return l.WaitVisibleAny(step.Selectors, step.TimeoutMS)
	case "wait_nonempty":
		return l.WaitNonEmptyAny(step.Selectors, step.TimeoutMS)
	case "wait_enabled":
		return l.WaitEnabledAny(step.Selectors, step.TimeoutMS)
	case "wait":
		ms := step.TimeoutMS
		if ms <= 0 {
			ms = 1000
		}
		l.page.WaitForTimeout(float64(ms))
		return nil
	default:
		return common.NewConfigurationError("unknown_step", fmt.Sprintf("unknown step action %q", step.Action))
	}
}

// DismissOverlays sends Escape twice to close dropdowns and modals that can
// intercept clicks.
func (l *Locators) DismissOverlays() {
	for i := 0; i < 2; i++ {
		_ = l.page.Keyboard().Press("Escape")
		l.page.WaitForTimeout(150)
	}
}

// Recover attempts to return the page to a usable state after a transient
// failure: dismiss overlays, reload, re-resolve the scope.
func (l *Locators) Recover() {
	l.DismissOverlays()
	if _, err := l.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		l.log.Warn().Err(err).Msg("Page reload during recovery failed")
	}
	l.page.WaitForTimeout(1500)
	l.Refresh()
}
