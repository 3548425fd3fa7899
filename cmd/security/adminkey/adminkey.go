package adminkey

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = 19

var (
	ErrKeyTooShort = errors.New("admin key too short")
	ErrInvalidHash = errors.New("invalid admin key hash")
)

// Params controls Argon2id cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// MinKeyLength is the shortest operator key Hash accepts.
const MinKeyLength = 16

// DefaultParams is sized for per-request verification rather than interactive login.
func DefaultParams() Params {
	return Params{
		MemoryKiB:   19 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hash encodes key as an Argon2id PHC string.
func Hash(key string, p Params) (string, error) {
	if len(key) < MinKeyLength {
		return "", ErrKeyTooShort
	}

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	sum := argon2.IDKey([]byte(key), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(sum),
	), nil
}

// Verifier checks presented keys against one encoded hash.
type Verifier struct {
	params   Params
	salt     []byte
	expected []byte
}

// NewVerifier decodes and bounds-checks an encoded hash once, at startup.
func NewVerifier(encoded string) (*Verifier, error) {
	p, salt, sum, err := decode(strings.TrimSpace(encoded))
	if err != nil {
		return nil, err
	}
	if !withinBounds(p) {
		return nil, ErrInvalidHash
	}
	return &Verifier{params: p, salt: salt, expected: sum}, nil
}

// Verify reports whether presented matches, in constant time.
func (v *Verifier) Verify(presented string) bool {
	if presented == "" {
		return false
	}
	sum := argon2.IDKey(
		[]byte(presented),
		v.salt,
		v.params.Iterations,
		v.params.MemoryKiB,
		v.params.Parallelism,
		uint32(len(v.expected)), // #nosec G115 -- bounded by withinBounds.
	)
	return subtle.ConstantTimeCompare(sum, v.expected) == 1
}

func withinBounds(p Params) bool {
	limits := DefaultParams()
	switch {
	case p.MemoryKiB > 4*limits.MemoryKiB:
		return false
	case p.Iterations > 4*limits.Iterations:
		return false
	case p.Parallelism > 8:
		return false
	case p.SaltLength < 8 || p.SaltLength > 64:
		return false
	case p.KeyLength < 16 || p.KeyLength > 128:
		return false
	}
	return true
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" || parts[2] != "v=19" {
		return Params{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	sum, err := b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}

	return Params{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),        // #nosec G115 -- checked <= 255 above.
		SaltLength:  uint32(len(salt)), // #nosec G115 -- decoded from a short header field.
		KeyLength:   uint32(len(sum)),  // #nosec G115 -- decoded from a short header field.
	}, salt, sum, nil
}
