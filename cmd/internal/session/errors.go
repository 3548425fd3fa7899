package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned when the session has passed its TTL. It is terminal.
	ErrExpired = errors.New("session expired")

	// ErrAlreadyVerified is returned when a verified session is verified or rebound again.
	// Callers treat it as an idempotent success; the session is left untouched.
	ErrAlreadyVerified = errors.New("session already verified")

	// ErrUserMismatch is returned when a Pending session is bound to a different user than
	// the one being verified. The session is left untouched.
	ErrUserMismatch = errors.New("session bound to another user")

	// ErrInvalidInput is returned for malformed arguments such as a user without id.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// OpError ties a sentinel Kind to the store operation and session that produced it.
type OpError struct {
	Op   string
	ID   string
	Kind error
}

func (e OpError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Kind)
}

func (e OpError) Unwrap() error { return e.Kind }

func opError(op, id string, kind error) error {
	return OpError{Op: op, ID: id, Kind: kind}
}
