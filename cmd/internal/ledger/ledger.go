// Package ledger keeps the append-only activity and login history of botgate.
//
// Entries are immutable once appended and are returned in insertion order.
// The two sequences are guarded by one RWMutex; readers copy a window out of
// the slice, so they observe a prefix consistent with append order.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"botgate/cmd/identity"
	"botgate/cmd/identity/ids"
	"botgate/cmd/internal/clock"
)

// Activity labels recorded by the verification workflow.
const (
	ActionBotStarted          = "bot started"
	ActionVerificationSuccess = "verification successful"
	ActionVerificationFailed  = "verification failed"
)

// ActivityEntry records something a user did. SessionID may be empty.
type ActivityEntry struct {
	ID        string
	User      identity.User
	Action    string
	SessionID string
	At        time.Time
}

// LoginEntry records a successful verification of SessionID by User.
type LoginEntry struct {
	ID        string
	User      identity.User
	SessionID string
	At        time.Time
}

// Ledger is the in-memory append-only store for both sequences.
type Ledger struct {
	clock clock.Clock
	log   *slog.Logger

	mu       sync.RWMutex
	activity []ActivityEntry
	logins   []LoginEntry
}

// New constructs an empty Ledger. A nil clock means the wall clock.
func New(c clock.Clock, log *slog.Logger) *Ledger {
	if c == nil {
		c = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		clock:    c,
		log:      log,
		activity: make([]ActivityEntry, 0, 256),
		logins:   make([]LoginEntry, 0, 64),
	}
}

// LogActivity appends an activity entry with a server-assigned timestamp.
func (l *Ledger) LogActivity(user identity.User, action, sessionID string) ActivityEntry {
	now := l.clock.Now()
	e := ActivityEntry{
		ID:        entryID(now),
		User:      user,
		Action:    action,
		SessionID: sessionID,
		At:        now,
	}

	l.mu.Lock()
	l.activity = append(l.activity, e)
	l.mu.Unlock()

	l.log.Info("ledger.activity", "action", action, "user_id", user.ID, "session_id", sessionID)
	return e
}

// LogLogin appends a login entry with a server-assigned timestamp.
func (l *Ledger) LogLogin(user identity.User, sessionID string) LoginEntry {
	now := l.clock.Now()
	e := LoginEntry{
		ID:        entryID(now),
		User:      user,
		SessionID: sessionID,
		At:        now,
	}

	l.mu.Lock()
	l.logins = append(l.logins, e)
	l.mu.Unlock()

	l.log.Info("ledger.login", "user_id", user.ID, "session_id", sessionID)
	return e
}

// ListActivity returns up to limit activity entries starting at offset.
func (l *Ledger) ListActivity(offset, limit int) []ActivityEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return window(l.activity, offset, limit)
}

// ListLogin returns up to limit login entries starting at offset.
func (l *Ledger) ListLogin(offset, limit int) []LoginEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return window(l.logins, offset, limit)
}

// LoginsFor returns the logins of a user, newest first.
func (l *Ledger) LoginsFor(userID int64) []LoginEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []LoginEntry
	for i := len(l.logins) - 1; i >= 0; i-- {
		if l.logins[i].User.ID == userID {
			out = append(out, l.logins[i])
		}
	}
	return out
}

// Len returns the sizes of the activity and login sequences.
func (l *Ledger) Len() (activity, logins int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.activity), len(l.logins)
}

// window copies s[offset:offset+limit], clamping negative inputs to zero.
func window[T any](s []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	if offset >= len(s) || limit == 0 {
		return []T{}
	}
	end := len(s)
	if limit < end-offset {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, s[offset:end])
	return out
}

// entryID falls back to an empty id if the entropy source fails; appends never fail.
func entryID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ""
	}
	return id
}
