// Package capture takes screenshots of each service's page after a
// submission and manages the temporary files they are written to.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/aichorus/internal/browser"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one screenshot.
const DefaultTimeout = 30 * time.Second

// DefaultLockTimeout bounds the wait for the service's page lock.
const DefaultLockTimeout = 10 * time.Minute

// ErrPageMoved means the page no longer shows the expected conversation.
var ErrPageMoved = errors.New("capture: page moved to another conversation")

// timestampLayout renders capture times in file names.
const timestampLayout = "20060102_150405.000000"

// Pages hands out a service's page under its exclusive lock.
type Pages interface {
	Acquire(ctx context.Context, name string) (browser.Page, func(), error)
}

// Artifact is one screenshot file on disk.
type Artifact struct {
	Service string
	Path    string
	Data    []byte
}

// Capturer writes full-page screenshots into a directory.
type Capturer struct {
	pages       Pages
	dir         string
	timeout     time.Duration
	lockTimeout time.Duration
	fullPage    bool
	logger      *zap.Logger
	now         func() time.Time
}

// Opts holds parameters for creating a Capturer.
type Opts struct {
	Pages       Pages
	Dir         string
	Timeout     time.Duration // defaults to DefaultTimeout
	LockTimeout time.Duration // defaults to DefaultLockTimeout
	FullPage    bool
	Logger      *zap.Logger
}

// New creates a Capturer. The directory is created on first capture.
func New(opts Opts) (*Capturer, error) {
	if opts.Pages == nil {
		return nil, fmt.Errorf("capture: pages is required")
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("capture: dir is required")
	}
	c := &Capturer{
		pages:       opts.Pages,
		dir:         opts.Dir,
		timeout:     opts.Timeout,
		lockTimeout: opts.LockTimeout,
		fullPage:    opts.FullPage,
		logger:      opts.Logger,
		now:         time.Now,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.lockTimeout <= 0 {
		c.lockTimeout = DefaultLockTimeout
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("capture")
	return c, nil
}

// Dir returns the screenshot directory.
func (c *Capturer) Dir() string { return c.dir }

// Capture screenshots the service's current page into a new file named
// {service}_{timestamp}_{thread}.png. Every call produces a distinct file.
// When wantURL is set the page must still show that conversation, otherwise
// ErrPageMoved is returned and nothing is written.
func (c *Capturer) Capture(ctx context.Context, service, threadTS, wantURL string) (Artifact, error) {
	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	page, release, err := c.pages.Acquire(lockCtx, service)
	cancel()
	if err != nil {
		return Artifact{}, fmt.Errorf("capture: %s: %w", service, err)
	}
	defer release()

	if wantURL != "" && !SamePage(page.URL(), wantURL) {
		return Artifact{}, fmt.Errorf("capture: %s: at %s, want %s: %w", service, page.URL(), wantURL, ErrPageMoved)
	}

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return Artifact{}, fmt.Errorf("capture: create dir: %w", err)
	}
	path, err := c.reserve(service, threadTS)
	if err != nil {
		return Artifact{}, fmt.Errorf("capture: %s: %w", service, err)
	}

	data, err := page.Screenshot(browser.ScreenshotOptions{
		Path:     path,
		FullPage: c.fullPage,
		Timeout:  c.timeout,
	})
	if err != nil {
		_ = os.Remove(path)
		return Artifact{}, fmt.Errorf("capture: %s: %w", service, err)
	}
	c.logger.Info("screenshot saved",
		zap.String("service", service),
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return Artifact{Service: service, Path: path, Data: data}, nil
}

// reserve creates an empty file with a name no other capture holds,
// advancing the timestamp on collision.
func (c *Capturer) reserve(service, threadTS string) (string, error) {
	ts := c.now()
	for i := 0; i < 1000; i++ {
		name := fmt.Sprintf("%s_%s_%s.png", sanitize(service), ts.Format(timestampLayout), sanitize(threadTS))
		path := filepath.Join(c.dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return path, f.Close()
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		ts = ts.Add(time.Microsecond)
	}
	return "", fmt.Errorf("no free file name for %s", service)
}

// SamePage reports whether two URLs name the same conversation, ignoring
// fragments and a trailing slash.
func SamePage(a, b string) bool {
	norm := func(u string) string {
		if i := strings.IndexByte(u, '#'); i >= 0 {
			u = u[:i]
		}
		return strings.TrimSuffix(u, "/")
	}
	return norm(a) == norm(b)
}

// sanitize keeps file names to a safe character set.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '-'
	}, s)
}
