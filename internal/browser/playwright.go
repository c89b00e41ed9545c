package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// defaultDialTimeout bounds a CDP connection attempt when ctx has no deadline.
const defaultDialTimeout = 30 * time.Second

// Conn is one live remote-debugging connection and the page it drives.
type Conn interface {
	// Page returns the page handle owned by this connection.
	Page() Page
	// Disconnect drops the connection without terminating the remote browser.
	Disconnect() error
}

// Dialer opens remote-debugging connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Engine owns the playwright driver process used to talk CDP to externally
// launched Chrome instances.
type Engine struct {
	mu sync.Mutex
	pw *playwright.Playwright
}

// NewEngine starts the playwright driver. The driver binaries must already
// be installed (see `playwright install`); browsers are never launched.
func NewEngine() (*Engine, error) {
	pw, err := playwright.Run(&playwright.RunOptions{SkipInstallBrowsers: true})
	if err != nil {
		return nil, fmt.Errorf("browser: start playwright: %w", err)
	}
	return &Engine{pw: pw}, nil
}

// Dial connects over CDP to endpoint, takes the default browsing context and
// its first page, creating a page if the context has none.
func (e *Engine) Dial(ctx context.Context, endpoint string) (Conn, error) {
	e.mu.Lock()
	pw := e.pw
	e.mu.Unlock()
	if pw == nil {
		return nil, fmt.Errorf("browser: engine stopped")
	}

	timeout := defaultDialTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("browser: dial %s: %w", endpoint, ErrTimeout)
	}

	b, err := pw.Chromium.ConnectOverCDP(endpoint, playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	if err != nil {
		return nil, fmt.Errorf("browser: dial %s: %w", endpoint, mapErr(err))
	}

	contexts := b.Contexts()
	if len(contexts) == 0 {
		_ = b.Close()
		return nil, fmt.Errorf("browser: dial %s: no default browsing context", endpoint)
	}
	bctx := contexts[0]

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = bctx.NewPage()
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("browser: dial %s: new page: %w", endpoint, err)
		}
	}

	return &pwConn{browser: b, context: bctx, page: &pwPage{page: page}}, nil
}

// Stop shuts down the playwright driver. Safe to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pw == nil {
		return nil
	}
	err := e.pw.Stop()
	e.pw = nil
	if err != nil {
		return fmt.Errorf("browser: stop playwright: %w", err)
	}
	return nil
}

// pwConn is the ownership chain browser -> context -> page for one service.
type pwConn struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    *pwPage
}

func (c *pwConn) Page() Page { return c.page }

func (c *pwConn) Disconnect() error {
	if !c.browser.IsConnected() {
		return nil
	}
	// Close on a CDP-attached browser only drops the connection.
	if err := c.browser.Close(); err != nil {
		return fmt.Errorf("browser: disconnect: %w", err)
	}
	return nil
}

// pwPage implements Page on a playwright page.
type pwPage struct {
	page playwright.Page
}

func (p *pwPage) locator(sel Selector) playwright.Locator {
	var loc playwright.Locator
	if sel.Within != "" {
		loc = p.page.Locator(sel.Within).Locator(sel.CSS)
	} else {
		loc = p.page.Locator(sel.CSS)
	}
	switch {
	case sel.Last:
		loc = loc.Last()
	case sel.First:
		loc = loc.First()
	}
	return loc
}

func (p *pwPage) URL() string    { return p.page.URL() }
func (p *pwPage) IsClosed() bool { return p.page.IsClosed() }

func (p *pwPage) WaitVisible(sel Selector, timeout time.Duration) error {
	err := p.locator(sel).WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	})
	return wrap("wait visible", sel, err)
}

func (p *pwPage) WaitEnabled(sel Selector, timeout time.Duration) error {
	loc := p.locator(sel)
	expect := playwright.NewPlaywrightAssertions(ms(timeout))
	if err := expect.Locator(loc).ToBeVisible(); err != nil {
		return wrap("wait enabled", sel, err)
	}
	return wrap("wait enabled", sel, expect.Locator(loc).ToBeEnabled())
}

func (p *pwPage) Click(sel Selector, timeout time.Duration) error {
	err := p.locator(sel).Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	return wrap("click", sel, err)
}

func (p *pwPage) Fill(sel Selector, text string, timeout time.Duration) error {
	err := p.locator(sel).Fill(text, playwright.LocatorFillOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	return wrap("fill", sel, err)
}

func (p *pwPage) Attribute(sel Selector, name string, timeout time.Duration) (string, error) {
	v, err := p.locator(sel).GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	return v, wrap("attribute "+name, sel, err)
}

func (p *pwPage) WaitAttribute(sel Selector, name, value string, timeout time.Duration) error {
	expect := playwright.NewPlaywrightAssertions(ms(timeout))
	return wrap("wait attribute "+name, sel, expect.Locator(p.locator(sel)).ToHaveAttribute(name, value))
}

func (p *pwPage) IsChecked(sel Selector, timeout time.Duration) (bool, error) {
	v, err := p.locator(sel).IsChecked(playwright.LocatorIsCheckedOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	return v, wrap("is checked", sel, err)
}

func (p *pwPage) WaitChecked(sel Selector, checked bool, timeout time.Duration) error {
	expect := playwright.NewPlaywrightAssertions(ms(timeout))
	err := expect.Locator(p.locator(sel)).ToBeChecked(playwright.LocatorAssertionsToBeCheckedOptions{
		Checked: playwright.Bool(checked),
	})
	return wrap("wait checked", sel, err)
}

func (p *pwPage) WaitURL(pattern *regexp.Regexp, timeout time.Duration) error {
	err := p.page.WaitForURL(pattern, playwright.PageWaitForURLOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	if err != nil {
		return fmt.Errorf("browser: wait url %s: %w", pattern, mapErr(err))
	}
	return nil
}

func (p *pwPage) Pause(d time.Duration) {
	p.page.WaitForTimeout(ms(d))
}

func (p *pwPage) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	so := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
		Timeout:  playwright.Float(ms(opts.Timeout)),
	}
	if opts.Path != "" {
		so.Path = playwright.String(opts.Path)
	}
	data, err := p.page.Screenshot(so)
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", mapErr(err))
	}
	return data, nil
}

func wrap(op string, sel Selector, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("browser: %s %s: %w", op, sel, mapErr(err))
}

// mapErr folds playwright's error kinds into this package's sentinels while
// keeping the original message in the chain.
func mapErr(err error) error {
	switch {
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, playwright.ErrTargetClosed):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
