package identity

import (
	"errors"
	"strings"
)

// ErrInvalidUser is returned when a User lacks a platform id.
var ErrInvalidUser = errors.New("identity: invalid user")

// User is a denormalized snapshot of a messaging-platform account.
// It is copied into sessions and ledger entries, never shared by pointer.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	IsPremium    bool
}

// Validate checks the minimal invariants required to bind a user to a session.
func (u User) Validate() error {
	if u.ID <= 0 {
		return ErrInvalidUser
	}
	return nil
}

// DisplayName joins first and last name, falling back to @username.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + NormalizeUsername(u.Username)
	}
	return ""
}
