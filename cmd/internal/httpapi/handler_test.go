package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"botgate/cmd/identity"
	"botgate/cmd/internal/clock"
	"botgate/cmd/internal/ledger"
	"botgate/cmd/internal/session"
	"botgate/cmd/internal/token"
	"botgate/cmd/internal/verify"
	"botgate/cmd/security/adminkey"
)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type countingCreated struct{ n atomic.Int32 }

func (c *countingCreated) SessionCreated() { c.n.Add(1) }

type stack struct {
	srv     *httptest.Server
	clock   *clock.Fake
	store   *session.Store
	ledger  *ledger.Ledger
	engine  *verify.Engine
	created *countingCreated
}

func newStack(t *testing.T, opts ...Option) *stack {
	t.Helper()

	s := &stack{clock: clock.NewFake(time.Now().UTC()), created: &countingCreated{}}

	cfg := session.DefaultConfig()
	cfg.BotURLTemplate = "https://t.me/GateBot?start={session_id}"
	var err error
	s.store, err = session.NewStore(cfg, session.WithClock(s.clock), session.WithLogger(quietLog()))
	require.NoError(t, err)
	s.ledger = ledger.New(s.clock, quietLog())

	vcfg := verify.DefaultConfig()
	vcfg.Groups = []string{"@news"}
	member := verify.CheckerFunc(func(context.Context, identity.User, string) (verify.Membership, error) {
		return verify.MembershipMember, nil
	})
	s.engine, err = verify.NewEngine(vcfg, s.store, s.ledger, member, verify.WithLogger(quietLog()))
	require.NoError(t, err)

	tokens, err := token.NewManager(token.DefaultConfig())
	require.NoError(t, err)

	base := []Option{
		WithLogger(quietLog()),
		WithClock(s.clock),
		WithTokens(tokens),
		WithSessionCounter(s.created),
		WithBotUsername("@GateBot"),
		WithWebSocket(10*time.Millisecond, nil),
	}
	h, err := NewHandler(s.store, s.ledger, s.engine, append(base, opts...)...)
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stack) do(t *testing.T, method, path string, hdr map[string]string) (int, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, s.srv.URL+path, nil)
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res.StatusCode, body
}

func (s *stack) generate(t *testing.T) string {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/generate_login_url", nil)
	require.Equal(t, http.StatusOK, code)
	return body["session_id"].(string)
}

var alice = identity.User{ID: 1001, Username: "alice", FirstName: "Alice", LanguageCode: "en"}

func TestLoginFlow_EndToEnd(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	ctx := context.Background()

	code, body := s.do(t, http.MethodPost, "/generate_login_url", nil)
	require.Equal(t, http.StatusOK, code)
	id := body["session_id"].(string)
	require.Equal(t, "success", body["status"])
	require.Equal(t, "https://t.me/GateBot?start="+id, body["bot_url"])
	require.Equal(t, float64(3600), body["expires_in"])
	require.Equal(t, int32(1), s.created.n.Load())

	_, body = s.do(t, http.MethodGet, "/check_login_status?session_id="+id, nil)
	require.Equal(t, "pending", body["login_status"])
	require.NotContains(t, body, "user_id")

	require.Equal(t, verify.StartBound, s.engine.Start(ctx, alice, id))
	_, body = s.do(t, http.MethodGet, "/check_login_status?session_id="+id, nil)
	require.Equal(t, "pending", body["login_status"])
	require.Equal(t, float64(alice.ID), body["user_id"])

	require.Equal(t, verify.OutcomeVerified, s.engine.Verify(ctx, id, alice).Outcome)

	_, body = s.do(t, http.MethodGet, "/check_login_status?session_id="+id, nil)
	require.Equal(t, "verified", body["login_status"])
	info := body["user_info"].(map[string]any)
	require.Equal(t, "alice", info["username"])
	tok, _ := body["access_token"].(string)
	require.NotEmpty(t, tok)

	code, body = s.do(t, http.MethodGet, "/verify-token?token="+tok, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["valid"])
	require.Equal(t, id, body["session_id"])

	code, body = s.do(t, http.MethodGet, "/verify-token", map[string]string{"Authorization": "Bearer " + tok})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["valid"])

	_, body = s.do(t, http.MethodGet, "/check-access?userId=1001", nil)
	require.Equal(t, true, body["hasAccess"])
	require.Equal(t, id, body["session_id"])

	s.clock.Advance(time.Hour)

	_, body = s.do(t, http.MethodGet, "/check_login_status?session_id="+id, nil)
	require.Equal(t, "error", body["status"])
	require.Equal(t, "session_expired", body["login_status"])

	_, body = s.do(t, http.MethodGet, "/check-access?userId=1001", nil)
	require.Equal(t, false, body["hasAccess"])

	code, body = s.do(t, http.MethodGet, "/verify-token?token="+tok, nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, false, body["valid"])
}

func TestCheckLoginStatus_Errors(t *testing.T) {
	t.Parallel()
	s := newStack(t)

	code, body := s.do(t, http.MethodGet, "/check_login_status", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "error", body["status"])

	code, body = s.do(t, http.MethodGet, "/check_login_status?session_id=nope", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "invalid_session", body["login_status"])

	code, _ = s.do(t, http.MethodGet, "/generate_login_url", nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestVerifyToken_Rejects(t *testing.T) {
	t.Parallel()
	s := newStack(t)

	code, _ := s.do(t, http.MethodGet, "/verify-token", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body := s.do(t, http.MethodGet, "/verify-token?token=v4.public.bogus", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, false, body["valid"])
}

func TestCheckAccess_BadUserID(t *testing.T) {
	t.Parallel()
	s := newStack(t)

	for _, q := range []string{"", "?userId=", "?userId=abc", "?userId=-4"} {
		code, body := s.do(t, http.MethodGet, "/check-access"+q, nil)
		require.Equal(t, http.StatusBadRequest, code, q)
		require.Equal(t, false, body["hasAccess"], q)
	}
	code, body := s.do(t, http.MethodGet, "/check-access?userId=55", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["hasAccess"])
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newStack(t)
	s.generate(t)
	s.generate(t)

	code, body := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "GateBot", body["bot_username"])
	require.Equal(t, float64(1), body["required_groups"])
	counts := body["sessions"].(map[string]any)
	require.Equal(t, float64(2), counts["pending"])
	require.Equal(t, float64(0), counts["verified"])
}

func TestLogs_Pagination(t *testing.T) {
	t.Parallel()
	s := newStack(t)

	for i := 0; i < 5; i++ {
		s.ledger.LogActivity(alice, ledger.ActionBotStarted, "")
	}
	s.ledger.LogLogin(alice, "sess-1")

	code, body := s.do(t, http.MethodGet, "/logs/activity", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(5), body["count"])
	require.Equal(t, float64(defaultLogLimit), body["limit"])

	_, body = s.do(t, http.MethodGet, "/logs/activity?offset=3&limit=10", nil)
	require.Equal(t, float64(2), body["count"])
	first := body["logs"].([]any)[0].(map[string]any)
	require.Equal(t, "bot started", first["action"])
	require.Equal(t, "alice", first["user"].(map[string]any)["username"])

	_, body = s.do(t, http.MethodGet, "/logs/activity?offset=99", nil)
	require.Equal(t, float64(0), body["count"])
	require.Equal(t, []any{}, body["logs"])

	_, body = s.do(t, http.MethodGet, "/logs/activity?limit=100000", nil)
	require.Equal(t, float64(maxLogLimit), body["limit"])

	_, body = s.do(t, http.MethodGet, "/logs/login", nil)
	require.Equal(t, float64(1), body["count"])
	require.Equal(t, "sess-1", body["logs"].([]any)[0].(map[string]any)["session_id"])

	for _, q := range []string{"?limit=abc", "?offset=-1", "?limit=-5", "?offset=1.5"} {
		code, _ := s.do(t, http.MethodGet, "/logs/login"+q, nil)
		require.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestLogs_AdminKey(t *testing.T) {
	t.Parallel()

	p := adminkey.DefaultParams()
	p.MemoryKiB, p.Iterations = 1024, 1
	enc, err := adminkey.Hash("ledger-admin-key-000", p)
	require.NoError(t, err)
	v, err := adminkey.NewVerifier(enc)
	require.NoError(t, err)

	s := newStack(t, WithAdminKey(v))

	code, _ := s.do(t, http.MethodGet, "/logs/activity", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/logs/login", map[string]string{adminKeyHeader: "wrong-key-wrong-key"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/logs/login", map[string]string{adminKeyHeader: "ledger-admin-key-000"})
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
}

func TestHome(t *testing.T) {
	t.Parallel()
	s := newStack(t)

	code, body := s.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, code)
	require.True(t, strings.Contains(body["message"].(string), "login"))

	res, err := http.Get(s.srv.URL + "/does-not-exist")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := NewHandler(nil, nil, nil)
	require.Error(t, err)
}
