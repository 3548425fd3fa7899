package session

import (
	"time"

	"botgate/cmd/identity"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusPending is the initial state: link issued, membership not yet confirmed.
	StatusPending Status = "pending"
	// StatusVerified means the bound user passed every required membership check.
	StatusVerified Status = "verified"
	// StatusExpired is terminal: the session outlived its TTL.
	StatusExpired Status = "expired"
)

// Session is a single login-handshake record.
//
// VerifiedAt is set iff Status is StatusVerified; the login ledger keeps the history.
// User is set once a messaging-platform user has been bound, possibly while still Pending.
type Session struct {
	ID         string
	Status     Status
	CreatedAt  time.Time
	VerifiedAt *time.Time
	User       *identity.User
	BotURL     string
}

// ExpiresAt returns the deadline after which the session is forced to Expired.
func (s Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// Bound reports whether a user has been attached to the session.
func (s Session) Bound() bool { return s.User != nil }

// clone returns a deep copy so callers never alias store-owned memory.
func (s Session) clone() Session {
	out := s
	if s.VerifiedAt != nil {
		v := *s.VerifiedAt
		out.VerifiedAt = &v
	}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}

// Counts is a point-in-time tally of sessions per status.
type Counts struct {
	Pending  int
	Verified int
	Expired  int
}
