package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ScrollMetrics is one sample of the page taken during scroll stabilization.
type ScrollMetrics struct {
	Height    int
	ItemCount int
}

// Page wraps a playwright page together with the isolated context it lives
// in. Closing the page tears both down.
type Page struct {
	page    playwright.Page
	context playwright.BrowserContext
	logger  *slog.Logger
}

// Navigate loads a URL, waiting for DOM content within the given timeout.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: goto %s: %v", ErrNavigationTimeout, url, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// URL is the current page URL, after any redirects.
func (p *Page) URL() string {
	return p.page.URL()
}

// WaitReady blocks until the document body exists.
func (p *Page) WaitReady(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.WaitForSelector("body", playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: wait for body: %v", ErrNavigationTimeout, err)
		}
		return fmt.Errorf("page ready wait failed: %w", err)
	}
	return nil
}

// Content returns the full serialized HTML of the current page.
func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	html, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// Metrics samples document height and the number of elements matching the
// item selector, the two signals the scroll-stabilization loop watches.
func (p *Page) Metrics(ctx context.Context, itemSelector string) (ScrollMetrics, error) {
	if err := ctx.Err(); err != nil {
		return ScrollMetrics{}, err
	}

	result, err := p.page.Evaluate(`(selector) => ({
		height: document.documentElement.scrollHeight,
		items: document.querySelectorAll(selector).length,
	})`, itemSelector)
	if err != nil {
		return ScrollMetrics{}, fmt.Errorf("failed to sample page metrics: %w", err)
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		return ScrollMetrics{}, fmt.Errorf("unexpected metrics shape %T", result)
	}

	return ScrollMetrics{
		Height:    toInt(m["height"]),
		ItemCount: toInt(m["items"]),
	}, nil
}

// ScrollBy scrolls the window down by px with smooth behavior.
func (p *Page) ScrollBy(ctx context.Context, px int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Evaluate(`(px) => window.scrollBy({ top: px, behavior: 'smooth' })`, px)
	return err
}

// ScrollToBottom jumps straight to the end of the document.
func (p *Page) ScrollToBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Evaluate(`() => window.scrollTo(0, document.documentElement.scrollHeight)`)
	return err
}

// ScrollToTop returns to the top of the document.
func (p *Page) ScrollToTop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Evaluate(`() => window.scrollTo(0, 0)`)
	return err
}

// ClickNext clicks the next-page control and waits for either a completed
// navigation or the given wait, whichever comes first. Platforms that
// re-render client-side never fire a navigation, so a timeout here is not an
// error. Returns false when no clickable control matched.
func (p *Page) ClickNext(ctx context.Context, selector string, wait time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	button := p.page.Locator(selector).First()
	count, err := button.Count()
	if err != nil || count == 0 {
		return false, nil
	}

	if disabled, err := button.GetAttribute("aria-disabled"); err == nil && disabled == "true" {
		return false, nil
	}

	if err := button.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(wait.Milliseconds())),
	}); err != nil {
		p.logger.Warn("next button click failed", "selector", selector, "error", err)
		return false, nil
	}

	// Bounded wait: DOM-updating platforms leave this to time out quietly.
	if err := p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(wait.Milliseconds())),
	}); err != nil && !isTimeout(err) {
		return true, fmt.Errorf("wait after next click: %w", err)
	}

	return true, nil
}

// Screenshot captures the current viewport to path, best effort.
func (p *Page) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(false),
	})
	return err
}

// Close releases the page and its isolated context.
func (p *Page) Close() error {
	var errs []error
	if err := p.page.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.context.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing page: %v", errs)
	}
	return nil
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
