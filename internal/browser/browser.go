package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	// ErrUnavailable means the browser process could not be launched. The
	// failed launch leaves the shared session empty, so a later caller may
	// retry.
	ErrUnavailable = errors.New("browser unavailable")

	// ErrNavigationTimeout marks a navigation or page-ready wait that ran out
	// of its deadline. Callers treat it as retryable.
	ErrNavigationTimeout = errors.New("navigation timeout")
)

var (
	mu     sync.Mutex
	shared *Session
)

// Session owns the single long-lived browser process shared by all jobs.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	Locale         string
	TimezoneID     string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		TimezoneID:     "Asia/Shanghai",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
		},
	}
}

// Acquire returns the process-wide browser session, launching it on first
// use. Options apply only to the launch that actually happens; later callers
// get the existing session as-is.
func Acquire(opts *Options) (*Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if shared != nil {
		return shared, nil
	}

	if opts == nil {
		opts = DefaultOptions()
	}

	s, err := launch(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	shared = s
	return shared, nil
}

// Shutdown terminates the shared browser process. A later Acquire launches a
// fresh one.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()

	if shared == nil {
		return nil
	}

	err := shared.close()
	shared = nil
	return err
}

func launch(opts *Options) (*Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + opts.UserAgent,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Session{
		pw:      pw,
		browser: b,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

// stealthScript masks the most common automation fingerprints. This is
// configuration, not behavior the orchestrator depends on.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => false });
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
`

// NewPage creates a page inside its own isolated browsing context with a
// realistic viewport, user agent and the fingerprint countermeasures applied.
func (s *Session) NewPage() (*Page, error) {
	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &s.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &s.opts.Locale,
		TimezoneId:        &s.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  s.opts.ViewportWidth,
			Height: s.opts.ViewportHeight,
		},
		ExtraHttpHeaders: s.opts.ExtraHeaders,
	}

	context, err := s.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if err := context.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		context.Close()
		return nil, fmt.Errorf("failed to add init script: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		context.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(s.opts.Timeout.Milliseconds()))

	return &Page{
		page:    page,
		context: context,
		logger:  s.logger,
	}, nil
}

func (s *Session) close() error {
	var errs []error

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

func isTimeout(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "timeout")
}
