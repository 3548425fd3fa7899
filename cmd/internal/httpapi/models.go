package httpapi

import (
	"time"

	"botgate/cmd/identity"
	"botgate/cmd/internal/ledger"
)

type userInfo struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium"`
}

func toUserInfo(u *identity.User) *userInfo {
	if u == nil {
		return nil
	}
	return &userInfo{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		LanguageCode: u.LanguageCode,
		IsPremium:    u.IsPremium,
	}
}

type loginURLResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	BotURL    string `json:"bot_url"`
	ExpiresIn int64  `json:"expires_in"`
}

// Login status values reported to web clients.
const (
	loginPending        = "pending"
	loginVerified       = "verified"
	loginInvalidSession = "invalid_session"
	loginExpired        = "session_expired"
)

type loginStatusResponse struct {
	Status          string     `json:"status"`
	LoginStatus     string     `json:"login_status"`
	SessionID       string     `json:"session_id,omitempty"`
	UserID          *int64     `json:"user_id,omitempty"`
	UserInfo        *userInfo  `json:"user_info,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	AccessToken     string     `json:"access_token,omitempty"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
}

type activityLog struct {
	ID        string    `json:"id"`
	User      userInfo  `json:"user"`
	Action    string    `json:"action"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type loginLog struct {
	ID        string    `json:"id"`
	User      userInfo  `json:"user"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

type logsResponse[T any] struct {
	Status string `json:"status"`
	Logs   []T    `json:"logs"`
	Count  int    `json:"count"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func toActivityLogs(in []ledger.ActivityEntry) []activityLog {
	out := make([]activityLog, 0, len(in))
	for _, e := range in {
		out = append(out, activityLog{
			ID:        e.ID,
			User:      *toUserInfo(&e.User),
			Action:    e.Action,
			SessionID: e.SessionID,
			Timestamp: e.At,
		})
	}
	return out
}

func toLoginLogs(in []ledger.LoginEntry) []loginLog {
	out := make([]loginLog, 0, len(in))
	for _, e := range in {
		out = append(out, loginLog{
			ID:        e.ID,
			User:      *toUserInfo(&e.User),
			SessionID: e.SessionID,
			Timestamp: e.At,
		})
	}
	return out
}

type verifyTokenResponse struct {
	Valid     bool       `json:"valid"`
	UserID    int64      `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type checkAccessResponse struct {
	HasAccess  bool       `json:"hasAccess"`
	SessionID  string     `json:"session_id,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	Message    string     `json:"message,omitempty"`
}

type sessionCounts struct {
	Pending  int `json:"pending"`
	Verified int `json:"verified"`
	Expired  int `json:"expired"`
}

type healthResponse struct {
	Status         string        `json:"status"`
	Timestamp      time.Time     `json:"timestamp"`
	BotUsername    string        `json:"bot_username,omitempty"`
	RequiredGroups int           `json:"required_groups"`
	Sessions       sessionCounts `json:"sessions"`
}

// statusEvent is pushed over /ws/session.
type statusEvent struct {
	SessionID   string    `json:"session_id"`
	LoginStatus string    `json:"login_status"`
	UserID      *int64    `json:"user_id,omitempty"`
	AccessToken string    `json:"access_token,omitempty"`
	At          time.Time `json:"at"`
}
