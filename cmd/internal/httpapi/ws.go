package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsMaxLifetime  = 15 * time.Minute
)

// handleSessionWS pushes login status changes for one session until it reaches a
// terminal state (verified, expired or invalid), then closes normally.
//
// Status is polled from the store; the socket replaces client-side polling of
// /check_login_status, not the store's own expiry rules.
func (h *Handler) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.wsOrigin,
	})
	if err != nil {
		h.log.Info("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	// The client never sends; CloseRead handles control frames and cancels ctx on close.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithTimeout(ctx, wsMaxLifetime)
	defer cancel()

	h.log.Debug("ws.session.open", "session_id", id)

	t := time.NewTicker(h.wsPoll)
	defer t.Stop()

	last := ""
	for {
		ev, terminal, err := h.statusEvent(ctx, id)
		if err != nil {
			h.log.Error("ws.session.status.fail", "session_id", id, "err", err)
			_ = conn.Close(websocket.StatusInternalError, "status unavailable")
			return
		}

		if key := ev.key(); key != last {
			if err := writeEvent(ctx, conn, ev); err != nil {
				h.log.Info("ws.write.fail", "session_id", id, "close_status", websocket.CloseStatus(err), "err", err)
				return
			}
			last = key
		}
		if terminal {
			_ = conn.Close(websocket.StatusNormalClosure, ev.LoginStatus)
			return
		}

		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "closing")
			return
		case <-t.C:
		}
	}
}

func (h *Handler) statusEvent(ctx context.Context, id string) (statusEvent, bool, error) {
	st, err := h.loginStatus(ctx, id)
	if err != nil {
		return statusEvent{}, false, err
	}
	ev := statusEvent{
		SessionID:   id,
		LoginStatus: st.LoginStatus,
		UserID:      st.UserID,
		AccessToken: st.AccessToken,
		At:          h.clock.Now(),
	}
	terminal := st.LoginStatus != loginPending
	return ev, terminal, nil
}

// key changes when the status or the bound user changes.
func (e statusEvent) key() string {
	if e.UserID == nil {
		return e.LoginStatus
	}
	return e.LoginStatus + ":" + strconv.FormatInt(*e.UserID, 10)
}

func writeEvent(parent context.Context, conn *websocket.Conn, ev statusEvent) error {
	ctx, cancel := context.WithTimeout(parent, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
