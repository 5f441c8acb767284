package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhantruonghcmut/uitf/internal/config"
)

// Session wraps a single browser tab. All operations combine the session's
// lifecycle context with the caller's context, so either cancellation wins.
type Session struct {
	id     string
	worker int
	logger *zap.Logger
	cfg    config.BrowserConfig

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	onClose   func()
}

// newSession opens a fresh tab on the shared allocator.
func newSession(allocCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger, workerID int) (*Session, error) {
	id := uuid.New().String()
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:     id,
		worker: workerID,
		logger: logger.With(zap.String("session_id", id), zap.Int("worker", workerID)),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	// Force the tab into existence so a broken browser fails at checkout,
	// not mid-test.
	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Close terminates the tab. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing session.")
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// run executes chromedp actions under the combined session/caller context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()
	return chromedp.Run(opCtx, actions...)
}

// Navigate loads a URL and waits for the load event, bounded by the
// configured navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("Navigating", zap.String("url", url))
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload page: %w", err)
	}
	return nil
}

// Click waits for the element to be visible and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to click '%s': %w", selector, err)
	}
	return nil
}

// Type clears the element and types the given text into it.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to type into '%s': %w", selector, err)
	}
	return nil
}

// SelectOption selects an option of a <select> element by value and fires
// the change event.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to select '%s' on '%s': %w", value, selector, err)
	}
	return nil
}

// Text returns the visible text content of the first matching element.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var out string
	if err := s.run(ctx, chromedp.Text(selector, &out, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read text of '%s': %w", selector, err)
	}
	return out, nil
}

// Attribute returns the named attribute of the first matching element. The
// bool reports whether the attribute exists.
func (s *Session) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var value string
	var ok bool
	if err := s.run(ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery)); err != nil {
		return "", false, fmt.Errorf("failed to read attribute '%s' of '%s': %w", name, selector, err)
	}
	return value, ok, nil
}

// WaitVisible blocks until the element is visible or the context expires.
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element '%s' did not become visible: %w", selector, err)
	}
	return nil
}

// WaitHidden blocks until the element is hidden or absent.
func (s *Session) WaitHidden(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitNotVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element '%s' did not become hidden: %w", selector, err)
	}
	return nil
}

// IsVisible reports whether at least one matching element is currently
// visible, without waiting.
func (s *Session) IsVisible(ctx context.Context, selector string) (bool, error) {
	script := fmt.Sprintf(`(function(sel) {
		const node = document.querySelector(sel);
		if (!node) return false;
		const rect = node.getBoundingClientRect();
		const style = window.getComputedStyle(node);
		return rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden';
	})(%q)`, selector)
	var visible bool
	if err := s.Eval(ctx, script, &visible); err != nil {
		return false, err
	}
	return visible, nil
}

// Eval runs a JavaScript expression in the page and unmarshals the result
// into out. Pass nil when the result is not needed.
func (s *Session) Eval(ctx context.Context, expression string, out any) error {
	var action chromedp.Action
	if out == nil {
		action = chromedp.Evaluate(expression, nil)
	} else {
		action = chromedp.Evaluate(expression, out)
	}
	if err := s.run(ctx, action); err != nil {
		return fmt.Errorf("failed JS evaluation: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as PNG. When fullPage is set the whole
// scrollable page is captured instead.
func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := s.run(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// PageSource returns the serialized HTML of the current document.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page source: %w", err)
	}
	return html, nil
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

// CurrentURL returns the current document location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// PollInterval exposes the configured auto-wait pacing for page objects.
func (s *Session) PollInterval() time.Duration {
	if s.cfg.PollInterval > 0 {
		return s.cfg.PollInterval
	}
	return 250 * time.Millisecond
}

// PrintToPDF renders the current page as PDF. Useful for archiving a final
// page state alongside the screenshot.
func (s *Session) PrintToPDF(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to print page to PDF: %w", err)
	}
	return buf, nil
}

// CombineContext creates a context that is canceled when either parent is.
// Operations must respect both the session lifecycle and the caller's
// deadline; this is how.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
