// Package main provides a CI-friendly smoke test for a running botgate server.
//
// It validates:
//   - /healthz and /health respond
//   - POST /generate_login_url issues a session and a bot link
//   - /check_login_status reports it pending
//   - /ws/session streams the pending snapshot
//   - unknown sessions are reported invalid_session
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type loginURL struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	BotURL    string `json:"bot_url"`
	ExpiresIn int64  `json:"expires_in"`
}

type loginStatus struct {
	Status      string `json:"status"`
	LoginStatus string `json:"login_status"`
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8000", "Server base URL")
		origin  = flag.String("origin", "", "Origin header to send (browser-like requests)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()
	c := &http.Client{Timeout: *timeout}

	mustStatus(root, c, http.MethodGet, base+"/healthz", *origin, http.StatusOK)
	mustStatus(root, c, http.MethodGet, base+"/health", *origin, http.StatusOK)

	var issued loginURL
	mustJSON(root, c, http.MethodPost, base+"/generate_login_url", *origin, &issued)
	if issued.Status != "success" || issued.SessionID == "" || !strings.Contains(issued.BotURL, issued.SessionID) {
		fatalf("generate_login_url: unexpected response %+v", issued)
	}
	if *verbose {
		fmt.Printf("issued: session_id=%s bot_url=%s expires_in=%ds\n", issued.SessionID, issued.BotURL, issued.ExpiresIn)
	}

	var st loginStatus
	mustJSON(root, c, http.MethodGet, base+"/check_login_status?session_id="+url.QueryEscape(issued.SessionID), *origin, &st)
	if st.LoginStatus != "pending" {
		fatalf("check_login_status: login_status=%q want pending", st.LoginStatus)
	}

	mustJSON(root, c, http.MethodGet, base+"/check_login_status?session_id=does-not-exist", *origin, &st)
	if st.LoginStatus != "invalid_session" {
		fatalf("check_login_status(unknown): login_status=%q want invalid_session", st.LoginStatus)
	}

	mustWSPending(root, wsURL(base)+"/ws/session?session_id="+url.QueryEscape(issued.SessionID), *origin, *timeout)

	fmt.Printf("OK: session_id=%s\n", issued.SessionID)
}

func validateBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func wsURL(base string) string {
	if rest, ok := strings.CutPrefix(base, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(base, "http://")
}

func do(parent context.Context, c *http.Client, method, target, origin string) *http.Response {
	req, err := http.NewRequestWithContext(parent, method, target, nil)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	res, err := c.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	return res
}

func mustStatus(parent context.Context, c *http.Client, method, target, origin string, want int) {
	res := do(parent, c, method, target, origin)
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
	if res.StatusCode != want {
		fatalf("%s %s: status=%d want=%d", method, target, res.StatusCode, want)
	}
}

func mustJSON(parent context.Context, c *http.Client, method, target, origin string, dst any) {
	res := do(parent, c, method, target, origin)
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		fatalf("%s %s: status=%d", method, target, res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		fatalf("%s %s: decode: %v", method, target, err)
	}
}

func mustWSPending(parent context.Context, target, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if origin != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("ws dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	var ev struct {
		SessionID   string `json:"session_id"`
		LoginStatus string `json:"login_status"`
	}
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		fatalf("ws read: %v", err)
	}
	if ev.LoginStatus != "pending" {
		fatalf("ws: login_status=%q want pending", ev.LoginStatus)
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
