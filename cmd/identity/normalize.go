package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization and drops a leading "@".
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}
