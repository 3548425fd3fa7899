// Package token issues PASETO v4.public access tokens for verified login sessions.
//
// A token carries the messaging user id and the session id. It is only a bearer
// credential for the web client; callers still confirm the session is Verified.
package token

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

var (
	// ErrConfig is returned when the token configuration is invalid.
	ErrConfig = errors.New("token: invalid config")
	// ErrInvalidToken is returned for tokens that fail signature, issuer or time checks.
	ErrInvalidToken = errors.New("token: invalid token")
)

const (
	defaultIssuer    = "botgate"
	defaultTTL       = 15 * time.Minute
	defaultClockSkew = 30 * time.Second
)

// Config holds signing parameters.
//
// An empty SecretKeyHex means "generate an ephemeral key at startup"; tokens then
// do not survive a restart, matching the lifetime of the in-memory sessions.
type Config struct {
	SecretKeyHex string
	Issuer       string
	TTL          time.Duration
	ClockSkew    time.Duration
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:    defaultIssuer,
		TTL:       defaultTTL,
		ClockSkew: defaultClockSkew,
	}
}

// LoadConfigFromEnv reads TOKEN_SECRET_KEY_HEX, TOKEN_ISSUER, ACCESS_TOKEN_TTL and
// TOKEN_CLOCK_SKEW on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.SecretKeyHex = strings.TrimSpace(os.Getenv("TOKEN_SECRET_KEY_HEX"))

	if v := strings.TrimSpace(os.Getenv("TOKEN_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("ACCESS_TOKEN_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ACCESS_TOKEN_TTL: %v", ErrConfig, err)
		}
		cfg.TTL = d
	}
	if v := strings.TrimSpace(os.Getenv("TOKEN_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: TOKEN_CLOCK_SKEW: %v", ErrConfig, err)
		}
		cfg.ClockSkew = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: issuer is required", ErrConfig)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	if c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute {
		return fmt.Errorf("%w: clock skew must be within [0, 5m]", ErrConfig)
	}
	return nil
}

// Claims is the verified content of an access token.
type Claims struct {
	UserID    int64
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Manager signs and verifies tokens with an Ed25519 keypair.
type Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey

	ephemeral bool
}

// NewManager builds a Manager. Without a configured key a fresh keypair is generated.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		secret    paseto.V4AsymmetricSecretKey
		ephemeral bool
	)
	if cfg.SecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
		ephemeral = true
	} else {
		k, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: TOKEN_SECRET_KEY_HEX: %v", ErrConfig, err)
		}
		secret = k
	}

	return &Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
		ephemeral: ephemeral,
	}, nil
}

// Ephemeral reports whether the signing key was generated at startup.
func (m *Manager) Ephemeral() bool { return m.ephemeral }

// TTL returns the token lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// PublicKeyHex exports the verification key.
func (m *Manager) PublicKeyHex() string { return m.public.ExportHex() }

// Issue signs a token for userID bound to sessionID.
func (m *Manager) Issue(userID int64, sessionID string, now time.Time) (string, time.Time, error) {
	if userID <= 0 || strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, fmt.Errorf("token: issue: user id and session id are required")
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("uid", strconv.FormatInt(userID, 10))
	tok.SetString("sid", sessionID)

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks the signature, issuer and validity window.
func (m *Manager) Verify(raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}

	// Evaluated slightly ahead so a peer's clock running fast does not fail nbf.
	validAt := now.Add(m.clockSkew)

	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validAt))

	parsed, err := p.ParseV4Public(m.public, raw, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uidRaw, err := parsed.GetString("uid")
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	uid, err := strconv.ParseInt(uidRaw, 10, 64)
	if err != nil || uid <= 0 {
		return Claims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Claims{
		UserID:    uid,
		SessionID: sid,
		IssuedAt:  iat,
		ExpiresAt: exp,
		Issuer:    iss,
	}, nil
}
