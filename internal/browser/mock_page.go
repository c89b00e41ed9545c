package browser

import (
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"
)

// MockElement is the scripted state of one element on a MockPage.
type MockElement struct {
	Visible bool
	Enabled bool
	Checked bool
	Attrs   map[string]string
	// OnClick runs after a successful click, with the page lock released.
	OnClick func(p *MockPage)
}

// MockPage implements Page for testing. Elements are registered by selector
// and every wait resolves immediately: the scripted state either satisfies
// it or the call fails with ErrTimeout.
type MockPage struct {
	mu       sync.Mutex
	url      string
	closed   bool
	elements map[string]*MockElement
	failures map[string]error // key: op + " " + selector key
	calls    []string
	filled   map[string]string
	paused   time.Duration
	shots    int
}

// NewMockPage creates a MockPage positioned at url.
func NewMockPage(url string) *MockPage {
	return &MockPage{
		url:      url,
		elements: make(map[string]*MockElement),
		failures: make(map[string]error),
		filled:   make(map[string]string),
	}
}

func mockKey(sel Selector) string {
	if sel.Within != "" {
		return sel.Within + " >> " + sel.CSS
	}
	return sel.CSS
}

// --- Scripting helpers ---

// SetElement registers (or replaces) the element addressed by sel.
func (m *MockPage) SetElement(sel Selector, el *MockElement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el.Attrs == nil {
		el.Attrs = make(map[string]string)
	}
	m.elements[mockKey(sel)] = el
}

// Element returns the registered element for sel, or nil.
func (m *MockPage) Element(sel Selector) *MockElement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elements[mockKey(sel)]
}

// SetURL moves the page to url.
func (m *MockPage) SetURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
}

// SetClosed marks the page closed.
func (m *MockPage) SetClosed(closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = closed
}

// FailOn makes op ("visible", "enabled", "click", "fill", "attribute",
// "checked", "screenshot") on sel return err.
func (m *MockPage) FailOn(op string, sel Selector, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+" "+mockKey(sel)] = err
}

// Calls returns a copy of the recorded operations, e.g. "click <selector>".
func (m *MockPage) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// Filled returns the last text written to sel.
func (m *MockPage) Filled(sel Selector) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filled[mockKey(sel)]
}

// Screenshots returns how many screenshots were taken.
func (m *MockPage) Screenshots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shots
}

// Paused returns the total time requested through Pause.
func (m *MockPage) Paused() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// --- Page implementation ---

// lookup records the call and returns the element, or an error when the
// page is closed, a failure is scripted, or the element is absent.
func (m *MockPage) lookup(op string, sel Selector) (*MockElement, error) {
	key := mockKey(sel)
	m.calls = append(m.calls, op+" "+key)
	if m.closed {
		return nil, fmt.Errorf("browser: %s %s: %w", op, key, ErrClosed)
	}
	if err, ok := m.failures[op+" "+key]; ok {
		return nil, err
	}
	el, ok := m.elements[key]
	if !ok || !el.Visible {
		return nil, fmt.Errorf("browser: %s %s: %w", op, key, ErrTimeout)
	}
	return el, nil
}

func (m *MockPage) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

func (m *MockPage) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockPage) WaitVisible(sel Selector, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.lookup("visible", sel)
	return err
}

func (m *MockPage) WaitEnabled(sel Selector, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, err := m.lookup("enabled", sel)
	if err != nil {
		return err
	}
	if !el.Enabled {
		return fmt.Errorf("browser: enabled %s: %w", mockKey(sel), ErrTimeout)
	}
	return nil
}

func (m *MockPage) Click(sel Selector, timeout time.Duration) error {
	m.mu.Lock()
	el, err := m.lookup("click", sel)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if el.OnClick != nil {
		el.OnClick(m)
	}
	return nil
}

func (m *MockPage) Fill(sel Selector, text string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup("fill", sel); err != nil {
		return err
	}
	m.filled[mockKey(sel)] = text
	return nil
}

func (m *MockPage) Attribute(sel Selector, name string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, err := m.lookup("attribute", sel)
	if err != nil {
		return "", err
	}
	return el.Attrs[name], nil
}

func (m *MockPage) WaitAttribute(sel Selector, name, value string, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, err := m.lookup("attribute", sel)
	if err != nil {
		return err
	}
	if el.Attrs[name] != value {
		return fmt.Errorf("browser: attribute %s=%q on %s: %w", name, value, mockKey(sel), ErrTimeout)
	}
	return nil
}

func (m *MockPage) IsChecked(sel Selector, timeout time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, err := m.lookup("checked", sel)
	if err != nil {
		return false, err
	}
	return el.Checked, nil
}

func (m *MockPage) WaitChecked(sel Selector, checked bool, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, err := m.lookup("checked", sel)
	if err != nil {
		return err
	}
	if el.Checked != checked {
		return fmt.Errorf("browser: checked=%v on %s: %w", checked, mockKey(sel), ErrTimeout)
	}
	return nil
}

func (m *MockPage) WaitURL(pattern *regexp.Regexp, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "url "+pattern.String())
	if m.closed {
		return fmt.Errorf("browser: wait url: %w", ErrClosed)
	}
	if !pattern.MatchString(m.url) {
		return fmt.Errorf("browser: wait url %s: %w", pattern, ErrTimeout)
	}
	return nil
}

func (m *MockPage) Pause(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused += d
}

func (m *MockPage) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "screenshot")
	if m.closed {
		return nil, fmt.Errorf("browser: screenshot: %w", ErrClosed)
	}
	if err, ok := m.failures["screenshot "]; ok {
		return nil, err
	}
	m.shots++
	data := []byte(fmt.Sprintf("PNG %s #%d", m.url, m.shots))
	if opts.Path != "" {
		if err := os.WriteFile(opts.Path, data, 0644); err != nil {
			return nil, fmt.Errorf("browser: screenshot: %w", err)
		}
	}
	return data, nil
}
