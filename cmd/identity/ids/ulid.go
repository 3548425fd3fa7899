// Package ids provides the identifier primitives used across botgate.
package ids

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a random (v4) UUID string: 122 bits of entropy.
// Session ids are handed to untrusted clients, so they must not be guessable.
func NewSessionID() (string, error) {
	id, err := uuid.NewRandomFromReader(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("ids: generate session id: %w", err)
	}
	return id.String(), nil
}

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps ledger ids aligned with append order in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
