package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func TestNewServer_CancelClosesSessionSockets(t *testing.T) {
	clearSubsystemEnv(t)

	cfg := LoadConfig()
	cfg.DatabaseURL = ""
	cfg.BotToken = ""
	cfg.LogsAdminKeyHash = ""
	cfg.CORSAllowedOrigins = []string{"*"}
	cfg.WSPollInterval = time.Hour

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := a.newServer(runCtx)
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	base := "http://" + ln.Addr().String()
	res, err := http.Post(base+"/generate_login_url", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var body struct {
		SessionID string `json:"session_id"`
	}
	_ = json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if body.SessionID == "" {
		t.Fatalf("generate status=%d: no session id", res.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsBaseURL(base)+"/ws/session?session_id="+body.SessionID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()

	var ev struct {
		LoginStatus string `json:"login_status"`
	}
	if err := wsjson.Read(ctx, c, &ev); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if ev.LoginStatus != "pending" {
		t.Fatalf("login_status=%q want=pending", ev.LoginStatus)
	}

	stop()

	_, _, err = c.Read(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("socket still open after cancel")
	}
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Fatalf("close status=%v err=%v want=%v", got, err, websocket.StatusGoingAway)
	}
}
