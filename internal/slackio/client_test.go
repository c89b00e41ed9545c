package slackio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu        sync.Mutex
	authResp  *slackapi.AuthTestResponse
	authErr   error
	posted    []postedMessage
	postErrs  []error // consumed one per call
	uploads   []slackapi.UploadFileParameters
	uploadErr error
	files     map[string]string
	fileErr   error
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func newMockSlackClient() *mockSlackClient {
	return &mockSlackClient{
		authResp: &slackapi.AuthTestResponse{UserID: "U_BOT_123", Team: "acme"},
		files:    make(map[string]string),
	}
}

func (m *mockSlackClient) AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error) {
	return m.authResp, m.authErr
}

func (m *mockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.postErrs) > 0 {
		err := m.postErrs[0]
		m.postErrs = m.postErrs[1:]
		if err != nil {
			return "", "", err
		}
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, fmt.Sprintf("1700000000.%06d", len(m.posted)), nil
}

func (m *mockSlackClient) UploadFileContext(ctx context.Context, params slackapi.UploadFileParameters) (*slackapi.FileSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	m.uploads = append(m.uploads, params)
	return &slackapi.FileSummary{ID: fmt.Sprintf("F%d", len(m.uploads)), Title: params.Title}, nil
}

func (m *mockSlackClient) GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error {
	if m.fileErr != nil {
		return m.fileErr
	}
	body, ok := m.files[downloadURL]
	if !ok {
		return fmt.Errorf("slack server error: 404 Not Found")
	}
	_, err := io.WriteString(writer, body)
	return err
}

func (m *mockSlackClient) postedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted)
}

func newTestClient(t *testing.T) (*Client, *mockSlackClient) {
	t.Helper()
	api := newMockSlackClient()
	c, err := NewClient(ClientOpts{API: api})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, api
}

// --- Tests ---

func TestNewClient_RequiresBotToken(t *testing.T) {
	_, err := NewClient(ClientOpts{AppToken: "xapp-test"})
	if err == nil || !strings.Contains(err.Error(), "bot token is required") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewClient_FromToken(t *testing.T) {
	c, err := NewClient(ClientOpts{BotToken: "xoxb-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := c.API(); !ok {
		t.Error("token-built client should expose *slack.Client")
	}
}

func TestConnect_RecordsBotUserID(t *testing.T) {
	c, _ := newTestClient(t)
	if c.BotUserID() != "" {
		t.Error("bot user ID set before Connect")
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.BotUserID() != "U_BOT_123" {
		t.Errorf("BotUserID = %q", c.BotUserID())
	}
}

func TestConnect_AuthError(t *testing.T) {
	c, api := newTestClient(t)
	api.authErr = errors.New("invalid_auth")
	err := c.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "auth test") {
		t.Fatalf("err = %v, want auth test error", err)
	}
}

func TestPostMessage(t *testing.T) {
	c, api := newTestClient(t)
	ts, err := c.PostMessage(context.Background(), "C1", slackapi.MsgOptionText("hi", false))
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if ts == "" || api.postedCount() != 1 || api.posted[0].channelID != "C1" {
		t.Errorf("ts = %q posted = %+v", ts, api.posted)
	}

	if _, err := c.PostMessage(context.Background(), ""); err == nil {
		t.Error("expected error for empty channel")
	}
}

func TestPostMessage_RetriesOnRateLimit(t *testing.T) {
	c, api := newTestClient(t)
	api.postErrs = []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}
	if _, err := c.PostMessage(context.Background(), "C1"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if api.postedCount() != 1 {
		t.Errorf("posted = %d, want 1", api.postedCount())
	}
}

func TestPostMessage_Error(t *testing.T) {
	c, api := newTestClient(t)
	api.postErrs = []error{errors.New("channel_not_found")}
	_, err := c.PostMessage(context.Background(), "C1")
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v", err)
	}
}

func TestUploadFile(t *testing.T) {
	c, api := newTestClient(t)
	path := filepath.Join(t.TempDir(), "chatgpt_20240101T000000_1700000000.000100.png")
	if err := os.WriteFile(path, []byte("PNGDATA"), 0644); err != nil {
		t.Fatal(err)
	}

	err := c.UploadFile(context.Background(), Upload{
		Channel: "C1", ThreadTS: "1700000000.000100", Path: path, Title: "ChatGPT", Comment: "ChatGPT screenshot",
	})
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if len(api.uploads) != 1 {
		t.Fatalf("uploads = %d", len(api.uploads))
	}
	got := api.uploads[0]
	if got.FileSize != 7 || got.Filename != filepath.Base(path) || got.ThreadTimestamp != "1700000000.000100" || got.Channel != "C1" {
		t.Errorf("params = %+v", got)
	}
}

func TestUploadFile_Errors(t *testing.T) {
	c, api := newTestClient(t)
	if err := c.UploadFile(context.Background(), Upload{Path: filepath.Join(t.TempDir(), "missing.png")}); err == nil {
		t.Error("expected error for missing file")
	}

	empty := filepath.Join(t.TempDir(), "empty.png")
	os.WriteFile(empty, nil, 0644)
	if err := c.UploadFile(context.Background(), Upload{Path: empty}); err == nil {
		t.Error("expected error for empty file")
	}

	full := filepath.Join(t.TempDir(), "full.png")
	os.WriteFile(full, []byte("x"), 0644)
	api.uploadErr = errors.New("not_in_channel")
	err := c.UploadFile(context.Background(), Upload{Channel: "C1", Path: full})
	if err == nil || !strings.Contains(err.Error(), "not_in_channel") {
		t.Errorf("err = %v", err)
	}
}

func TestDownload(t *testing.T) {
	c, api := newTestClient(t)
	api.files["https://files.slack.com/a.m4a"] = "AUDIO"

	data, err := c.Download(context.Background(), "https://files.slack.com/a.m4a")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "AUDIO" {
		t.Errorf("data = %q", data)
	}

	if _, err := c.Download(context.Background(), "https://files.slack.com/missing"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := c.Download(context.Background(), ""); err == nil {
		t.Error("expected error for empty url")
	}
}

func TestLimitedWriter(t *testing.T) {
	var sb strings.Builder
	w := &limitedWriter{w: &sb, remaining: 4}
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("de")); err == nil {
		t.Error("expected error once the limit is exceeded")
	}
}

// --- retryOnRateLimit tests ---

func TestRetryOnRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"success", []error{nil}, 1, false},
		{"non rate limit error", []error{errors.New("boom")}, 1, true},
		{"retries and succeeds", []error{
			&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
			&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
			nil,
		}, 3, false},
		{"exhausts retries", []error{
			&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
			&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
			&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
			&slackapi.RateLimitedError{RetryAfter: time.Millisecond},
		}, maxRetries + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryOnRateLimit(context.Background(), func() error {
				err := tt.errs[calls]
				calls++
				return err
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retryOnRateLimit(ctx, func() error {
		calls++
		return &slackapi.RateLimitedError{RetryAfter: time.Second}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
