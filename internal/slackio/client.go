// Package slackio is the Slack transport: Web API calls (post, upload,
// download, auth) and the Socket Mode event listener.
package slackio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// maxDownloadBytes caps audio downloads.
	maxDownloadBytes = 100 << 20
	// DefaultDownloadTimeout bounds one file download.
	DefaultDownloadTimeout = 30 * time.Second
)

// ErrNotConnected is returned by calls that need the bot identity before
// Connect succeeded.
var ErrNotConnected = errors.New("slackio: not connected")

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	UploadFileContext(ctx context.Context, params slackapi.UploadFileParameters) (*slackapi.FileSummary, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
}

// Client wraps the Slack Web API for the relay.
type Client struct {
	api             slackClient
	logger          *zap.Logger
	downloadTimeout time.Duration

	mu        sync.Mutex
	botUserID string
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BotToken        string // xoxb-... Slack bot token
	AppToken        string // xapp-... app-level token, only for Socket Mode
	Logger          *zap.Logger
	DownloadTimeout time.Duration
	// For testing: inject a mock client instead of the real Slack API.
	API slackClient
}

// NewClient creates a Client. The bot token is required unless a client is
// injected.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.API == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slackio: bot token is required")
	}
	c := &Client{
		api:             opts.API,
		logger:          opts.Logger,
		downloadTimeout: opts.DownloadTimeout,
	}
	if c.api == nil {
		var options []slackapi.Option
		if opts.AppToken != "" {
			options = append(options, slackapi.OptionAppLevelToken(opts.AppToken))
		}
		c.api = slackapi.New(opts.BotToken, options...)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("slack")
	if c.downloadTimeout <= 0 {
		c.downloadTimeout = DefaultDownloadTimeout
	}
	return c, nil
}

// API returns the underlying *slack.Client when the Client was built from a
// token, for Socket Mode.
func (c *Client) API() (*slackapi.Client, bool) {
	api, ok := c.api.(*slackapi.Client)
	return api, ok
}

// Connect verifies the token and records the bot's user ID for self-message
// filtering.
func (c *Client) Connect(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slackio: auth test: %w", err)
	}
	c.mu.Lock()
	c.botUserID = auth.UserID
	c.mu.Unlock()
	c.logger.Info("authenticated", zap.String("bot_user_id", auth.UserID), zap.String("team", auth.Team))
	return nil
}

// BotUserID returns the bot's user ID (empty before Connect).
func (c *Client) BotUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

// PostMessage posts to channel, retrying on rate limits, and returns the
// message timestamp.
func (c *Client) PostMessage(ctx context.Context, channel string, options ...slackapi.MsgOption) (string, error) {
	if channel == "" {
		return "", fmt.Errorf("slackio: no channel specified")
	}
	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = c.api.PostMessageContext(ctx, channel, options...)
		return postErr
	})
	if err != nil {
		return "", fmt.Errorf("slackio: post message: %w", err)
	}
	return ts, nil
}

// Upload describes a file posted into a thread.
type Upload struct {
	Channel  string
	ThreadTS string
	Path     string
	Title    string
	Comment  string
}

// UploadFile uploads a local file into a thread, retrying on rate limits.
func (c *Client) UploadFile(ctx context.Context, u Upload) error {
	info, err := os.Stat(u.Path)
	if err != nil {
		return fmt.Errorf("slackio: upload: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("slackio: upload %s: empty file", u.Path)
	}
	params := slackapi.UploadFileParameters{
		File:            u.Path,
		FileSize:        int(info.Size()),
		Filename:        filepath.Base(u.Path),
		Title:           u.Title,
		InitialComment:  u.Comment,
		Channel:         u.Channel,
		ThreadTimestamp: u.ThreadTS,
	}
	err = retryOnRateLimit(ctx, func() error {
		_, upErr := c.api.UploadFileContext(ctx, params)
		return upErr
	})
	if err != nil {
		return fmt.Errorf("slackio: upload %s: %w", filepath.Base(u.Path), err)
	}
	return nil
}

// Download fetches a private file (url_private_download) with the bot token.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("slackio: download: empty url")
	}
	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	var buf bytes.Buffer
	w := &limitedWriter{w: &buf, remaining: maxDownloadBytes}
	if err := c.api.GetFileContext(ctx, url, w); err != nil {
		return nil, fmt.Errorf("slackio: download: %w", err)
	}
	c.logger.Info("downloaded file", zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// limitedWriter fails once more than remaining bytes are written.
type limitedWriter struct {
	w         io.Writer
	remaining int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, fmt.Errorf("file exceeds %d bytes", maxDownloadBytes)
	}
	l.remaining -= int64(len(p))
	return l.w.Write(p)
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors, waiting
// for the RetryAfter duration Slack sends. Other errors return at once.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
