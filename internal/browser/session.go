package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
)

// Session owns a headless browser context for the lifetime of a scan.
type Session struct {
	config common.BrowserConfig
	logger arbor.ILogger

	allocatorCancel context.CancelFunc
	browserCancel   context.CancelFunc
	browserCtx      context.Context
}

// NewSession creates an unstarted browser session.
func NewSession(config common.BrowserConfig, logger arbor.ILogger) *Session {
	return &Session{
		config: config,
		logger: logger,
	}
}

// Start launches Chrome and enables network event delivery.
func (s *Session) Start(ctx context.Context) error {
	opts := s.buildAllocatorOptions()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, opts...)
	s.allocatorCancel = allocatorCancel

	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			s.logger.Debug().Msg(fmt.Sprintf(format, args...))
		}),
	)
	s.browserCancel = browserCancel
	s.browserCtx = browserCtx

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		s.Stop()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		s.Stop()
		return fmt.Errorf("failed to enable network events: %w", err)
	}

	s.logger.Info().Bool("headless", s.config.Headless).Msg("Browser session started")
	return nil
}

// buildAllocatorOptions creates Chrome allocator options for maximum stealth
func (s *Session) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.UserAgent(s.config.UserAgent),

		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("useAutomationExtension", false),
		chromedp.Flag("enable-features", "NetworkService,NetworkServiceInProcess"),

		chromedp.WindowSize(s.config.WindowWidth, s.config.WindowHeight),
	}

	if s.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.config.ExecPath))
	}

	if s.config.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}

	return opts
}

// Context returns the browser context for event listeners.
func (s *Session) Context() context.Context {
	return s.browserCtx
}

// Navigate loads a URL and waits for the page to settle.
func (s *Session) Navigate(ctx context.Context, url string, settle time.Duration) error {
	navCtx, cancel := context.WithTimeout(s.browserCtx, s.config.NavTimeoutDuration())
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(settle),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// HTML returns the full serialized document of the current page.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	runCtx, cancel := context.WithTimeout(s.browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// CurrentURL returns the browser's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	runCtx, cancel := context.WithTimeout(s.browserCtx, 10*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Evaluate runs a JavaScript expression and decodes the result into out.
// Pass nil when the result is not needed.
func (s *Session) Evaluate(ctx context.Context, expr string, out interface{}) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// ClickSelector clicks the first node matching the CSS selector.
func (s *Session) ClickSelector(ctx context.Context, selector string) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

// ForceClick clicks a selector through JavaScript, bypassing visibility
// and overlay checks that defeat a synthesized mouse click.
func (s *Session) ForceClick(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.click();
		return true;
	})()`, selector)

	var clicked bool
	if err := s.Evaluate(ctx, expr, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("force click: no element matches %q", selector)
	}
	return nil
}

// ForceCheck sets a checkbox checked through JavaScript and dispatches
// the change and click events the page's handlers listen for.
func (s *Session) ForceCheck(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.checked = true;
		el.dispatchEvent(new Event('change', { bubbles: true }));
		el.dispatchEvent(new Event('click', { bubbles: true }));
		return true;
	})()`, selector)

	var checked bool
	if err := s.Evaluate(ctx, expr, &checked); err != nil {
		return err
	}
	if !checked {
		return fmt.Errorf("force check: no element matches %q", selector)
	}
	return nil
}

// Stop tears down the browser and allocator contexts.
func (s *Session) Stop() {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocatorCancel != nil {
		s.allocatorCancel()
		s.allocatorCancel = nil
	}
}
