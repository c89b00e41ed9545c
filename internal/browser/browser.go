// Package browser defines the page primitives the service drivers are built
// on (locate, wait, click, fill, read state, capture) and implements them
// over playwright-go connections to pre-launched Chrome instances.
package browser

import (
	"errors"
	"regexp"
	"time"
)

// ErrTimeout is returned (wrapped) when a bounded wait expires.
var ErrTimeout = errors.New("browser: timeout")

// ErrClosed is returned when the page or its browser has gone away.
var ErrClosed = errors.New("browser: page closed")

// Selector addresses an element on a page.
type Selector struct {
	CSS    string // element selector (playwright selector syntax)
	Within string // optional ancestor selector; CSS is resolved inside it
	Last   bool   // use the last match when the selector is duplicated
	First  bool   // use the first match
}

// CSSSelector is shorthand for a plain, first-or-only match selector.
func CSSSelector(css string) Selector {
	return Selector{CSS: css}
}

// String renders the selector for logs.
func (s Selector) String() string {
	out := s.CSS
	if s.Within != "" {
		out = s.Within + " >> " + out
	}
	switch {
	case s.Last:
		out += " (last)"
	case s.First:
		out += " (first)"
	}
	return out
}

// Page is the set of page operations a service driver uses. Every wait is
// bounded by the timeout passed in; timeouts wrap ErrTimeout.
type Page interface {
	// URL returns the page's current URL.
	URL() string
	// IsClosed reports whether the page can no longer be used.
	IsClosed() bool
	// WaitVisible waits until the element is visible.
	WaitVisible(sel Selector, timeout time.Duration) error
	// WaitEnabled waits until the element is visible and enabled.
	WaitEnabled(sel Selector, timeout time.Duration) error
	// Click clicks the element once it is actionable.
	Click(sel Selector, timeout time.Duration) error
	// Fill replaces the element's text content.
	Fill(sel Selector, text string, timeout time.Duration) error
	// Attribute reads an attribute of the element.
	Attribute(sel Selector, name string, timeout time.Duration) (string, error)
	// WaitAttribute waits until the attribute has the given value.
	WaitAttribute(sel Selector, name, value string, timeout time.Duration) error
	// IsChecked reads the checked state of a checkbox element.
	IsChecked(sel Selector, timeout time.Duration) (bool, error)
	// WaitChecked waits until the checkbox reaches the given state.
	WaitChecked(sel Selector, checked bool, timeout time.Duration) error
	// WaitURL waits until the page URL matches pattern.
	WaitURL(pattern *regexp.Regexp, timeout time.Duration) error
	// Pause lets the UI settle for d.
	Pause(d time.Duration)
	// Screenshot captures the page as PNG.
	Screenshot(opts ScreenshotOptions) ([]byte, error)
}

// ScreenshotOptions configures Page.Screenshot.
type ScreenshotOptions struct {
	Path     string // also write the PNG here when set
	FullPage bool
	Timeout  time.Duration
}
