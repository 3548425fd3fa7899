package verify

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned for invalid verification configuration.
var ErrConfig = errors.New("verify: invalid config")

// Config controls which groups are required and how they are checked.
type Config struct {
	// Groups is the ordered list of group references a user must belong to.
	Groups []string

	// CheckTimeout bounds each call into the membership capability.
	CheckTimeout time.Duration

	// AllowUnverifiable lets groups that cannot be checked count as passed.
	// Off by default: unconfirmable membership denies verification.
	AllowUnverifiable bool
}

// DefaultConfig returns a fail-closed configuration with no required groups.
func DefaultConfig() Config {
	return Config{
		CheckTimeout: 5 * time.Second,
	}
}

// LoadConfigFromEnv reads:
//   - REQUIRED_GROUPS (comma separated, order preserved, duplicates dropped)
//   - MEMBERSHIP_CHECK_TIMEOUT (Go duration, > 0)
//   - VERIFY_ALLOW_UNVERIFIABLE (bool)
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.Groups = ParseGroups(os.Getenv("REQUIRED_GROUPS"))

	if v := strings.TrimSpace(os.Getenv("MEMBERSHIP_CHECK_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.CheckTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("VERIFY_ALLOW_UNVERIFIABLE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.AllowUnverifiable = b
	}

	return cfg, nil
}

// ParseGroups splits a comma separated list, trimming blanks and dropping duplicates.
func ParseGroups(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		g := strings.TrimSpace(part)
		if g == "" {
			continue
		}
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
