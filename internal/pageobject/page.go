// Package pageobject provides the base types concrete page objects embed.
// A Page binds a browser session to a URL space; Elements are lazy locators
// that resolve on every interaction, so stale references cannot accumulate.
package pageobject

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/browser"
	"github.com/nhantruonghcmut/uitf/internal/expect"
)

// Page is the embeddable base for web page objects.
type Page struct {
	session *browser.Session
	baseURL string
	name    string
	logger  *zap.Logger
}

// NewPage binds a page object to a session. baseURL anchors relative paths
// passed to Open.
func NewPage(session *browser.Session, baseURL, name string, logger *zap.Logger) *Page {
	return &Page{
		session: session,
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		logger:  logger.Named("page").With(zap.String("page", name)),
	}
}

// Session exposes the underlying browser session for operations the base
// page does not model.
func (p *Page) Session() *browser.Session { return p.session }

// Name returns the page object's name, used in step reporting.
func (p *Page) Name() string { return p.name }

// Open navigates to the page. path may be absolute or relative to the base
// URL.
func (p *Page) Open(ctx context.Context, path string) error {
	target := path
	if u, err := url.Parse(path); err == nil && !u.IsAbs() {
		target = p.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	p.logger.Info("Opening page.", zap.String("url", target))
	return p.session.Navigate(ctx, target)
}

// Title returns the current document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	return p.session.Title(ctx)
}

// URL returns the current document location.
func (p *Page) URL(ctx context.Context) (string, error) {
	return p.session.CurrentURL(ctx)
}

// El declares an element of this page by CSS selector.
func (p *Page) El(selector string) *Element {
	return &Element{page: p, selector: selector}
}

// Element is a lazy locator. It stores only the selector; every operation
// resolves against the live DOM.
type Element struct {
	page     *Page
	selector string
}

// Selector returns the element's CSS selector.
func (e *Element) Selector() string { return e.selector }

// Click waits for visibility and clicks.
func (e *Element) Click(ctx context.Context) error {
	return e.page.session.Click(ctx, e.selector)
}

// Type clears the field and types text into it.
func (e *Element) Type(ctx context.Context, text string) error {
	return e.page.session.Type(ctx, e.selector, text)
}

// Select picks an option of a <select> by value.
func (e *Element) Select(ctx context.Context, value string) error {
	return e.page.session.SelectOption(ctx, e.selector, value)
}

// Text returns the element's visible text.
func (e *Element) Text(ctx context.Context) (string, error) {
	return e.page.session.Text(ctx, e.selector)
}

// Attribute returns the named attribute. The bool reports presence.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	return e.page.session.Attribute(ctx, e.selector, name)
}

// Visible reports current visibility without waiting.
func (e *Element) Visible(ctx context.Context) (bool, error) {
	return e.page.session.IsVisible(ctx, e.selector)
}

// WaitVisible blocks until the element appears or ctx expires.
func (e *Element) WaitVisible(ctx context.Context) error {
	return e.page.session.WaitVisible(ctx, e.selector)
}

// WaitHidden blocks until the element disappears or ctx expires.
func (e *Element) WaitHidden(ctx context.Context) error {
	return e.page.session.WaitHidden(ctx, e.selector)
}

// ShouldHaveText polls until the element's text equals want.
func (e *Element) ShouldHaveText(ctx context.Context, want string, timeout time.Duration) error {
	cond := expect.TextEquals(e.Text, want)
	if err := expect.Eventually(ctx, timeout, e.page.session.PollInterval(), cond); err != nil {
		return fmt.Errorf("element '%s': %w", e.selector, err)
	}
	return nil
}

// ShouldContainText polls until the element's text contains substr.
func (e *Element) ShouldContainText(ctx context.Context, substr string, timeout time.Duration) error {
	cond := expect.TextContains(e.Text, substr)
	if err := expect.Eventually(ctx, timeout, e.page.session.PollInterval(), cond); err != nil {
		return fmt.Errorf("element '%s': %w", e.selector, err)
	}
	return nil
}
