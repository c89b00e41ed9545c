// Package doctor runs the diagnostic checks behind `chorus doctor`.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Check statuses.
const (
	Pass = "PASS"
	Fail = "FAIL"
	Warn = "WARN"
)

// DefaultProbeTimeout bounds each endpoint probe.
const DefaultProbeTimeout = 5 * time.Second

// Result is one diagnostic line.
type Result struct {
	Name   string
	Status string
	Detail string
}

// Version is the subset of /json/version the probe reads.
type Version struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// FetchVersion reads the browser's /json/version document.
func FetchVersion(ctx context.Context, client *http.Client, endpoint string) (Version, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(endpoint, "/") + "/json/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Version{}, fmt.Errorf("doctor: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Version{}, fmt.Errorf("doctor: %s unreachable: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Version{}, fmt.Errorf("doctor: %s returned HTTP %d", url, resp.StatusCode)
	}
	var v Version
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&v); err != nil {
		return Version{}, fmt.Errorf("doctor: decode %s: %w", url, err)
	}
	if v.WebSocketDebuggerURL == "" {
		return Version{}, fmt.Errorf("doctor: %s has no webSocketDebuggerUrl", url)
	}
	return v, nil
}

type cdpRequest struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
}

type cdpResponse struct {
	ID     int `json:"id"`
	Result struct {
		Product string `json:"product"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ProbeCDP opens the browser websocket and issues Browser.getVersion. It
// returns the product string the browser reports.
func ProbeCDP(ctx context.Context, wsURL string) (string, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return "", fmt.Errorf("doctor: dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(cdpRequest{ID: 1, Method: "Browser.getVersion"}); err != nil {
		return "", fmt.Errorf("doctor: send Browser.getVersion: %w", err)
	}
	// Events may arrive ahead of the reply.
	for {
		var resp cdpResponse
		if err := conn.ReadJSON(&resp); err != nil {
			return "", fmt.Errorf("doctor: read Browser.getVersion: %w", err)
		}
		if resp.ID != 1 {
			continue
		}
		if resp.Error != nil {
			return "", fmt.Errorf("doctor: Browser.getVersion: %s", resp.Error.Message)
		}
		return resp.Result.Product, nil
	}
}

// CheckEndpoint probes one service's remote-debugging endpoint over HTTP
// and then over the CDP websocket.
func CheckEndpoint(ctx context.Context, service, endpoint string) Result {
	name := fmt.Sprintf("Browser %s", service)
	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	v, err := FetchVersion(ctx, nil, endpoint)
	if err != nil {
		return Result{name, Fail, fmt.Sprintf("%v (start Chrome with --remote-debugging-port)", err)}
	}
	product, err := ProbeCDP(ctx, v.WebSocketDebuggerURL)
	if err != nil {
		return Result{name, Fail, fmt.Sprintf("%s: HTTP ok, CDP failed: %v", endpoint, err)}
	}
	return Result{name, Pass, fmt.Sprintf("%s (%s)", endpoint, product)}
}

// CheckSecret reports whether a credential is configured. Missing required
// credentials fail; missing optional ones warn.
func CheckSecret(name, value string, required bool, purpose string) Result {
	if value != "" {
		return Result{name, Pass, "configured"}
	}
	if required {
		return Result{name, Fail, fmt.Sprintf("missing (%s)", purpose)}
	}
	return Result{name, Warn, fmt.Sprintf("missing (%s)", purpose)}
}

// Print writes results and a tally to out. It returns the number of
// failed checks.
func Print(out io.Writer, results []Result) int {
	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		fmt.Fprintf(out, "[%s] %s: %s\n", r.Status, r.Name, r.Detail)
		switch r.Status {
		case Pass:
			passed++
		case Fail:
			failed++
		case Warn:
			warned++
		}
	}
	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)
	return failed
}
