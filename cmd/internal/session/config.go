package session

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// SessionIDPlaceholder is replaced by the session id in BotURLTemplate.
const SessionIDPlaceholder = "{session_id}"

// Config controls session lifetime and the distributable bot link.
type Config struct {
	// TTL is the age after which a session is forced to Expired, whatever its status.
	TTL time.Duration

	// ReapInterval is how often the reaper sweeps. It must not exceed TTL.
	ReapInterval time.Duration

	// BotURLTemplate produces the start link, e.g. https://t.me/SomeBot?start={session_id}.
	BotURLTemplate string
}

// DefaultConfig mirrors the production defaults: one hour TTL, five minute sweeps.
func DefaultConfig() Config {
	return Config{
		TTL:            3600 * time.Second,
		ReapInterval:   300 * time.Second,
		BotURLTemplate: "https://t.me/YourBotUsername?start=" + SessionIDPlaceholder,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - SESSION_TTL_SECONDS (positive integer)
//   - REAP_INTERVAL_SECONDS (positive integer, <= SESSION_TTL_SECONDS)
//   - BOT_ENTRY_URL_TEMPLATE (must contain {session_id})
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("SESSION_TTL_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = time.Duration(n) * time.Second
	}

	if v := strings.TrimSpace(os.Getenv("REAP_INTERVAL_SECONDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.ReapInterval = time.Duration(n) * time.Second
	}

	if v := strings.TrimSpace(os.Getenv("BOT_ENTRY_URL_TEMPLATE")); v != "" {
		cfg.BotURLTemplate = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants between the knobs.
func (c Config) Validate() error {
	if c.TTL <= 0 || c.ReapInterval <= 0 {
		return ErrConfig
	}
	if c.ReapInterval > c.TTL {
		return ErrConfig
	}
	if !strings.Contains(c.BotURLTemplate, SessionIDPlaceholder) {
		return ErrConfig
	}
	return nil
}

// BotURL renders the start link for a session id.
func (c Config) BotURL(sessionID string) string {
	return strings.ReplaceAll(c.BotURLTemplate, SessionIDPlaceholder, url.QueryEscape(sessionID))
}
