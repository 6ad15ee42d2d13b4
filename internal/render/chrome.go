package render

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
)

// The site serves Hebrew listings; match what a local visitor sends
const acceptLanguage = "he-IL,he;q=0.9,en-US;q=0.8,en;q=0.7"

// Options configures the Chrome rendering client
type Options struct {
	Headless  bool
	ExecPath  string
	UserAgent string
	Markers   []string
	Clearance Clearance
}

// launcher is the part of the browser lifecycle Recover drives
type launcher struct {
	start    func(headless bool) error
	stop     func()
	navigate func(ctx context.Context, url string) error
	detect   func(ctx context.Context) bool
}

// ChromeClient drives one Chrome instance through the DevTools protocol.
// The session lives until Close; a restart drops cookies.
type ChromeClient struct {
	opts   Options
	log    *logger.Logger
	launch launcher

	mu          sync.Mutex
	headless    bool
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	lastURL     string
}

// NewChromeClient launches Chrome. A launch failure is a setup error.
func NewChromeClient(opts Options, log *logger.Logger) (*ChromeClient, error) {
	if opts.ExecPath == "" {
		opts.ExecPath = FindChromeBinary()
	}
	c := &ChromeClient{opts: opts, log: log}
	c.launch = launcher{start: c.start, stop: c.stop, navigate: c.navigate, detect: c.DetectChallenge}
	if err := c.start(opts.Headless); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ChromeClient) start(headless bool) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if c.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.opts.UserAgent))
	}
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	// Suppress chromedp log noise
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	// the first Run starts the browser
	if err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": acceptLanguage}),
	); err != nil {
		cancelTab()
		cancelAlloc()
		return errors.NewRender("chrome", "start browser", err)
	}

	c.ctx, c.cancelAlloc, c.cancelTab = tabCtx, cancelAlloc, cancelTab
	c.headless = headless
	c.log.Info().Bool("headless", headless).Str("exec", c.opts.ExecPath).Msg("Browser started")
	return nil
}

func (c *ChromeClient) stop() {
	if c.cancelTab != nil {
		c.cancelTab()
	}
	if c.cancelAlloc != nil {
		c.cancelAlloc()
	}
	c.cancelTab, c.cancelAlloc = nil, nil
}

// Close tears the browser down. It is safe to call more than once.
func (c *ChromeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop()
	return nil
}

// run executes actions on the tab, aborting when either ctx or the tab ends
func (c *ChromeClient) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	return chromedp.Run(runCtx, actions...)
}

// Render navigates to url and returns the rendered markup
func (c *ChromeClient) Render(ctx context.Context, url string) (string, error) {
	c.lastURL = url
	var html string
	err := c.run(ctx, 0,
		chromedp.Navigate(url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func (c *ChromeClient) navigate(ctx context.Context, url string) error {
	return c.run(ctx, 0, chromedp.Navigate(url))
}

// WaitFor waits until selector is present in the DOM
func (c *ChromeClient) WaitFor(ctx context.Context, selector string, timeout time.Duration) bool {
	err := c.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery))
	if err != nil {
		c.log.Debug().Str("selector", selector).Err(err).Msg("Wait ended without match")
		return false
	}
	return true
}

// ScrollToBottom scrolls to the end of the document
func (c *ChromeClient) ScrollToBottom(ctx context.Context) error {
	return c.run(ctx, 0, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

// CountElements counts nodes matching selector
func (c *ChromeClient) CountElements(ctx context.Context, selector string) (int, error) {
	var n int
	err := c.run(ctx, 0, chromedp.Evaluate(`document.querySelectorAll(`+strconv.Quote(selector)+`).length`, &n))
	return n, err
}

// Snapshot returns the current markup
func (c *ChromeClient) Snapshot(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// DetectChallenge looks for an interstitial marker in the current markup
func (c *ChromeClient) DetectChallenge(ctx context.Context) bool {
	html, err := c.Snapshot(ctx)
	if err != nil {
		return false
	}
	return HasChallengeMarker(html, c.opts.Markers)
}

// Headless reports the current mode
func (c *ChromeClient) Headless() bool {
	return c.headless
}

// CurrentURL returns the location of the tab, or the last requested url
func (c *ChromeClient) CurrentURL() string {
	var loc string
	if err := c.run(context.Background(), 2*time.Second, chromedp.Location(&loc)); err != nil || loc == "" {
		return c.lastURL
	}
	return loc
}

// Recover clears an interstitial. A headless browser is restarted with a
// window so an operator can solve it; the last url is loaded again and the
// call blocks until the marker is gone.
func (c *ChromeClient) Recover(ctx context.Context) error {
	if c.headless {
		c.log.Warn().Msg("Restarting browser in interactive mode")
		c.mu.Lock()
		c.launch.stop()
		err := c.launch.start(false)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		if c.lastURL != "" {
			if err := c.launch.navigate(ctx, c.lastURL); err != nil {
				return errors.NewNetwork(c.lastURL, "reload after restart", err)
			}
		}
	}
	return AwaitClearance(ctx, c.launch.detect, c.opts.Clearance, c.log)
}

// FindChromeBinary locates Chrome/Chromium binary.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
