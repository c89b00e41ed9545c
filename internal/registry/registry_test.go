package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/aichorus/internal/browser"
)

// --- Mock dialer ---

type mockConn struct {
	page          *browser.MockPage
	mu            sync.Mutex
	disconnects   int
	disconnectErr error
}

func (c *mockConn) Page() browser.Page { return c.page }

func (c *mockConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return c.disconnectErr
}

func (c *mockConn) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type mockDialer struct {
	mu    sync.Mutex
	conns map[string]*mockConn // key: endpoint
	dials []string
}

func newMockDialer() *mockDialer {
	return &mockDialer{conns: make(map[string]*mockConn)}
}

func (d *mockDialer) live(endpoint string) *mockConn {
	c := &mockConn{page: browser.NewMockPage("https://" + endpoint + "/")}
	d.conns[endpoint] = c
	return c
}

func (d *mockDialer) Dial(ctx context.Context, endpoint string) (browser.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, endpoint)
	if _, ok := ctx.Deadline(); !ok {
		return nil, fmt.Errorf("dial without deadline")
	}
	c, ok := d.conns[endpoint]
	if !ok {
		return nil, fmt.Errorf("connection refused")
	}
	return c, nil
}

func newTestRegistry(t *testing.T, d *mockDialer) *Registry {
	t.Helper()
	r, err := New(Opts{Dialer: d, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

var threeServices = []Service{
	{Name: "chatgpt", Endpoint: "gpt"},
	{Name: "claude", Endpoint: "claude"},
	{Name: "gemini", Endpoint: "gemini"},
}

func TestNew_RequiresDialer(t *testing.T) {
	_, err := New(Opts{})
	if err == nil || !strings.Contains(err.Error(), "dialer is required") {
		t.Fatalf("err = %v, want dialer is required", err)
	}
}

func TestConnectAll_PartialFailureIsNotFatal(t *testing.T) {
	d := newMockDialer()
	d.live("gpt")
	d.live("gemini")
	r := newTestRegistry(t, d)

	statuses := r.ConnectAll(context.Background(), threeServices)
	if len(statuses) != 3 {
		t.Fatalf("len(statuses) = %d, want 3", len(statuses))
	}
	want := map[string]bool{"chatgpt": true, "claude": false, "gemini": true}
	for _, st := range statuses {
		if st.Connected != want[st.Name] {
			t.Errorf("%s connected = %v, want %v", st.Name, st.Connected, want[st.Name])
		}
	}
	if statuses[1].Error == "" {
		t.Error("claude status should carry the connect error")
	}

	if _, ok := r.Page("claude"); ok {
		t.Error("claude page should be unavailable")
	}
	if _, ok := r.Page("chatgpt"); !ok {
		t.Error("chatgpt page should be available")
	}
	if _, ok := r.Page("unknown"); ok {
		t.Error("unknown service should be unavailable")
	}
	if got := r.Services(); len(got) != 3 || got[1] != "claude" {
		t.Errorf("Services() = %v, want claude kept as unavailable entry", got)
	}
}

func TestPage_ClosedPageIsNeverReused(t *testing.T) {
	d := newMockDialer()
	c := d.live("gpt")
	r := newTestRegistry(t, d)
	r.ConnectAll(context.Background(), threeServices[:1])

	c.page.SetClosed(true)
	if _, ok := r.Page("chatgpt"); ok {
		t.Fatal("closed page must be unavailable")
	}
	c.page.SetClosed(false)
	if _, ok := r.Page("chatgpt"); ok {
		t.Error("a page seen closed must not be handed out again")
	}
	if st := r.Status()[0]; st.Connected {
		t.Error("status should report disconnected after close")
	}
}

func TestAcquire_SerializesPerService(t *testing.T) {
	d := newMockDialer()
	d.live("gpt")
	d.live("claude")
	r := newTestRegistry(t, d)
	r.ConnectAll(context.Background(), threeServices[:2])

	_, release, err := r.Acquire(context.Background(), "chatgpt")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Another service is independent.
	_, releaseClaude, err := r.Acquire(context.Background(), "claude")
	if err != nil {
		t.Fatalf("Acquire claude: %v", err)
	}
	releaseClaude()

	// Same service blocks until released.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := r.Acquire(ctx, "chatgpt"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire err = %v, want deadline exceeded", err)
	}

	got := make(chan error, 1)
	go func() {
		_, rel, err := r.Acquire(context.Background(), "chatgpt")
		if err == nil {
			rel()
		}
		got <- err
	}()
	release()
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("Acquire after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not proceed after release")
	}
}

func TestAcquire_Unavailable(t *testing.T) {
	d := newMockDialer()
	r := newTestRegistry(t, d)
	r.ConnectAll(context.Background(), threeServices[:1])

	_, _, err := r.Acquire(context.Background(), "chatgpt")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	// The lock must have been released on the failure path.
	_, _, err = r.Acquire(context.Background(), "chatgpt")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("second err = %v, want ErrUnavailable", err)
	}
	if _, _, err := r.Acquire(context.Background(), "nope"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unknown err = %v, want ErrUnavailable", err)
	}
}

func TestDisconnectAll_Idempotent(t *testing.T) {
	d := newMockDialer()
	gpt := d.live("gpt")
	gem := d.live("gemini")
	r := newTestRegistry(t, d)
	r.ConnectAll(context.Background(), threeServices)

	if err := r.DisconnectAll(); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}
	if err := r.DisconnectAll(); err != nil {
		t.Fatalf("second DisconnectAll: %v", err)
	}
	if gpt.disconnectCount() != 1 || gem.disconnectCount() != 1 {
		t.Errorf("disconnects = %d/%d, want 1/1", gpt.disconnectCount(), gem.disconnectCount())
	}
	if len(r.Status()) != 0 {
		t.Error("registry should be empty after DisconnectAll")
	}
	if _, ok := r.Page("chatgpt"); ok {
		t.Error("no page should be available after DisconnectAll")
	}
}

func TestDisconnectAll_ReportsErrors(t *testing.T) {
	d := newMockDialer()
	c := d.live("gpt")
	c.disconnectErr = fmt.Errorf("socket gone")
	r := newTestRegistry(t, d)
	r.ConnectAll(context.Background(), threeServices[:1])

	err := r.DisconnectAll()
	if err == nil || !strings.Contains(err.Error(), "socket gone") {
		t.Fatalf("err = %v, want socket gone", err)
	}
	if len(r.Status()) != 0 {
		t.Error("registry should be cleared even when a disconnect fails")
	}
}

func TestConnectAll_ReplacesExistingHandle(t *testing.T) {
	d := newMockDialer()
	c := d.live("gpt")
	r := newTestRegistry(t, d)
	r.ConnectAll(context.Background(), threeServices[:1])
	r.ConnectAll(context.Background(), threeServices[:1])

	if c.disconnectCount() != 1 {
		t.Errorf("previous connection disconnects = %d, want 1", c.disconnectCount())
	}
	if got := len(r.Services()); got != 1 {
		t.Errorf("len(Services()) = %d, want 1", got)
	}
}

func TestAcquire_LockSurvivesReconnect(t *testing.T) {
	d := newMockDialer()
	d.live("gpt")
	r := newTestRegistry(t, d)
	r.ConnectAll(context.Background(), threeServices[:1])

	_, release, err := r.Acquire(context.Background(), "chatgpt")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	r.ConnectAll(context.Background(), threeServices[:1])

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := r.Acquire(ctx, "chatgpt"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire during held lock err = %v, want deadline exceeded", err)
	}
}

func TestAcquire_UnknownService(t *testing.T) {
	r := newTestRegistry(t, newMockDialer())
	if _, _, err := r.Acquire(context.Background(), "mistral"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if len(r.locks) != 0 {
		t.Errorf("locks = %d, want none for unknown services", len(r.locks))
	}
}
