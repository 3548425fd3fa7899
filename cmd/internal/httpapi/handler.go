// Package httpapi serves the web-facing login endpoints: issuing login links,
// polling their status, and the read-only ledger and access queries.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"botgate/cmd/internal/clock"
	"botgate/cmd/internal/ledger"
	"botgate/cmd/internal/session"
	"botgate/cmd/internal/token"
	"botgate/cmd/security/adminkey"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500

	adminKeyHeader = "X-Admin-Key"
)

// Sessions is the part of session.Store the transport uses.
type Sessions interface {
	CreateSession(ctx context.Context) (session.Session, error)
	Get(ctx context.Context, id string) (session.Session, error)
	Stats() session.Counts
	Config() session.Config
}

// Ledger exposes the append-only history.
type Ledger interface {
	ListActivity(offset, limit int) []ledger.ActivityEntry
	ListLogin(offset, limit int) []ledger.LoginEntry
}

// Access answers "does this user currently hold a verified login?".
type Access interface {
	AccessFor(ctx context.Context, userID int64) (session.Session, bool)
	Groups() []string
}

// SessionCounter is notified of issued sessions (metrics).
type SessionCounter interface {
	SessionCreated()
}

// Handler wires HTTP endpoints to the session store, ledger and verification engine.
type Handler struct {
	log      *slog.Logger
	clock    clock.Clock
	sessions Sessions
	ledger   Ledger
	access   Access

	tokens   *token.Manager
	admin    *adminkey.Verifier
	counter  SessionCounter
	botName  string
	wsPoll   time.Duration
	wsOrigin []string
}

// Option configures optional handler dependencies.
type Option func(*Handler)

func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(h *Handler) {
		if c != nil {
			h.clock = c
		}
	}
}

// WithTokens enables access tokens on verified status responses and /verify-token.
func WithTokens(m *token.Manager) Option {
	return func(h *Handler) { h.tokens = m }
}

// WithAdminKey guards the ledger endpoints with the X-Admin-Key header.
func WithAdminKey(v *adminkey.Verifier) Option {
	return func(h *Handler) { h.admin = v }
}

func WithSessionCounter(c SessionCounter) Option {
	return func(h *Handler) { h.counter = c }
}

// WithBotUsername is reported by /health.
func WithBotUsername(name string) Option {
	return func(h *Handler) { h.botName = strings.TrimPrefix(strings.TrimSpace(name), "@") }
}

// WithWebSocket tunes /ws/session: poll interval and allowed cross-origin host patterns.
func WithWebSocket(poll time.Duration, originPatterns []string) Option {
	return func(h *Handler) {
		if poll > 0 {
			h.wsPoll = poll
		}
		h.wsOrigin = originPatterns
	}
}

// NewHandler constructs a Handler.
func NewHandler(sessions Sessions, l Ledger, access Access, opts ...Option) (*Handler, error) {
	if sessions == nil || l == nil || access == nil {
		return nil, errors.New("httpapi: nil dependency")
	}
	h := &Handler{
		log:      slog.Default(),
		clock:    clock.Real{},
		sessions: sessions,
		ledger:   l,
		access:   access,
		wsPoll:   time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/{$}", h.handleHome)
	mux.HandleFunc("/generate_login_url", h.handleGenerateLoginURL)
	mux.HandleFunc("/check_login_status", h.handleCheckLoginStatus)
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/logs/activity", h.requireAdmin(h.handleActivityLogs))
	mux.HandleFunc("/logs/login", h.requireAdmin(h.handleLoginLogs))
	mux.HandleFunc("/verify-token", h.handleVerifyToken)
	mux.HandleFunc("/check-access", h.handleCheckAccess)
	mux.HandleFunc("/ws/session", h.handleSessionWS)
}

// ---- handlers ----

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Telegram login gateway",
		"timestamp": h.clock.Now(),
	})
}

func (h *Handler) handleGenerateLoginURL(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	sess, err := h.sessions.CreateSession(r.Context())
	if err != nil {
		h.log.Error("http.generate_login_url.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "session_create_failed", "failed to generate login url")
		return
	}
	if h.counter != nil {
		h.counter.SessionCreated()
	}

	writeJSON(w, http.StatusOK, loginURLResponse{
		Status:    "success",
		SessionID: sess.ID,
		BotURL:    sess.BotURL,
		ExpiresIn: int64(h.sessions.Config().TTL / time.Second),
	})
}

func (h *Handler) handleCheckLoginStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	resp, err := h.loginStatus(r.Context(), id)
	if err != nil {
		h.log.Error("http.check_login_status.fail", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "status_failed", "failed to check login status")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// loginStatus maps a session snapshot onto the polling response. Unknown and
// expired sessions are reported in-band, not as HTTP errors.
func (h *Handler) loginStatus(ctx context.Context, id string) (loginStatusResponse, error) {
	sess, err := h.sessions.Get(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return loginStatusResponse{Status: "error", LoginStatus: loginInvalidSession}, nil
	case err != nil:
		return loginStatusResponse{}, err
	}

	if sess.Status == session.StatusExpired {
		return loginStatusResponse{Status: "error", LoginStatus: loginExpired, SessionID: sess.ID}, nil
	}

	resp := loginStatusResponse{
		Status:      "success",
		LoginStatus: loginPending,
		SessionID:   sess.ID,
		UserInfo:    toUserInfo(sess.User),
	}
	if sess.User != nil {
		uid := sess.User.ID
		resp.UserID = &uid
	}
	if sess.Status != session.StatusVerified {
		return resp, nil
	}

	resp.LoginStatus = loginVerified
	resp.VerifiedAt = sess.VerifiedAt
	if h.tokens != nil && sess.User != nil {
		tok, exp, err := h.tokens.Issue(sess.User.ID, sess.ID, h.clock.Now())
		if err != nil {
			return loginStatusResponse{}, err
		}
		resp.AccessToken = tok
		resp.AccessExpiresAt = &exp
	}
	return resp, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	c := h.sessions.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Timestamp:      h.clock.Now(),
		BotUsername:    h.botName,
		RequiredGroups: len(h.access.Groups()),
		Sessions: sessionCounts{
			Pending:  c.Pending,
			Verified: c.Verified,
			Expired:  c.Expired,
		},
	})
}

func (h *Handler) handleActivityLogs(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	logs := toActivityLogs(h.ledger.ListActivity(offset, limit))
	writeJSON(w, http.StatusOK, logsResponse[activityLog]{
		Status: "success", Logs: logs, Count: len(logs), Offset: offset, Limit: limit,
	})
}

func (h *Handler) handleLoginLogs(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	logs := toLoginLogs(h.ledger.ListLogin(offset, limit))
	writeJSON(w, http.StatusOK, logsResponse[loginLog]{
		Status: "success", Logs: logs, Count: len(logs), Offset: offset, Limit: limit,
	})
}

func (h *Handler) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if h.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "tokens_disabled", "access tokens are not configured")
		return
	}

	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		raw = bearerToken(r)
	}
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, verifyTokenResponse{Message: "token is required"})
		return
	}

	claims, err := h.tokens.Verify(raw, h.clock.Now())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, verifyTokenResponse{Message: "invalid or expired token"})
		return
	}

	// Honored only while its session is still verified for the same user.
	sess, err := h.sessions.Get(r.Context(), claims.SessionID)
	if err != nil || sess.Status != session.StatusVerified || sess.User == nil || sess.User.ID != claims.UserID {
		writeJSON(w, http.StatusUnauthorized, verifyTokenResponse{Message: "session is no longer verified"})
		return
	}

	exp := claims.ExpiresAt
	writeJSON(w, http.StatusOK, verifyTokenResponse{
		Valid:     true,
		UserID:    claims.UserID,
		SessionID: claims.SessionID,
		ExpiresAt: &exp,
	})
}

func (h *Handler) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("userId"))
	uid, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || uid <= 0 {
		writeJSON(w, http.StatusBadRequest, checkAccessResponse{Message: "userId parameter is required"})
		return
	}

	sess, ok := h.access.AccessFor(r.Context(), uid)
	if !ok {
		writeJSON(w, http.StatusOK, checkAccessResponse{HasAccess: false})
		return
	}
	writeJSON(w, http.StatusOK, checkAccessResponse{
		HasAccess:  true,
		SessionID:  sess.ID,
		VerifiedAt: sess.VerifiedAt,
	})
}

// ---- helpers ----

func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if h.admin != nil && !h.admin.Verify(r.Header.Get(adminKeyHeader)) {
			h.log.Info("http.admin.denied", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized", "admin key required")
			return
		}
		next(w, r)
	}
}

// pageParams parses offset/limit. Missing values default; malformed or negative
// values are rejected; limit is capped.
func pageParams(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	q := r.URL.Query()

	offset, ok = intParam(q.Get("offset"), 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "offset must be a non-negative integer")
		return 0, 0, false
	}
	limit, ok = intParam(q.Get("limit"), defaultLogLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return 0, 0, false
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	return offset, limit, true
}

func intParam(raw string, def int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}
