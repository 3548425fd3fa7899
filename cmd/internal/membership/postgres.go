// Package membership checks group membership against a roster table in PostgreSQL.
//
// It is used when no messaging-platform API is available to answer membership
// questions (for example in staging, or for groups mirrored by an external sync job).
package membership

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"botgate/cmd/identity"
	"botgate/cmd/internal/verify"
)

const defaultSchema = "botgate"

var _ verify.MembershipChecker = (*PostgresChecker)(nil)

var pgIdentRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresChecker implements verify.MembershipChecker over <schema>.group_members.
//
// The pool is owned by the caller.
type PostgresChecker struct {
	pool   *pgxpool.Pool
	schema string
}

// Option configures PostgresChecker.
type Option func(*PostgresChecker) error

// WithSchema sets the schema holding group_members (default "botgate").
func WithSchema(schema string) Option {
	return func(c *PostgresChecker) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("membership: empty schema")
		}
		if !pgIdentRE.MatchString(schema) {
			return errors.New("membership: invalid schema identifier")
		}
		c.schema = schema
		return nil
	}
}

// NewPostgresChecker constructs a checker.
func NewPostgresChecker(pool *pgxpool.Pool, opts ...Option) (*PostgresChecker, error) {
	c := &PostgresChecker{pool: pool, schema: defaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.pool == nil {
		return nil, errors.New("membership: nil pool")
	}
	return c, nil
}

// EnsureSchema creates the schema and roster table when missing.
func (c *PostgresChecker) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{c.schema}.Sanitize(),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  group_ref text NOT NULL,
  user_id bigint NOT NULL,
  added_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (group_ref, user_id)
)`, c.table()),
	}
	for _, s := range stmts {
		if _, err := c.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("membership: ensure schema: %w", err)
		}
	}
	return nil
}

// CheckMembership reports Member when (group, user) is on the roster and NotMember otherwise.
// Database errors are returned; the verification engine degrades them to Unverifiable.
func (c *PostgresChecker) CheckMembership(ctx context.Context, user identity.User, group string) (verify.Membership, error) {
	ref := GroupKey(group)
	if ref == "" {
		return verify.MembershipUnverifiable, errors.New("membership: empty group reference")
	}

	q := fmt.Sprintf(`SELECT 1 FROM %s WHERE group_ref = $1 AND user_id = $2`, c.table())

	var one int
	err := c.pool.QueryRow(ctx, q, ref, user.ID).Scan(&one)
	switch {
	case err == nil:
		return verify.MembershipMember, nil
	case errors.Is(err, pgx.ErrNoRows):
		return verify.MembershipNotMember, nil
	default:
		return verify.MembershipUnverifiable, fmt.Errorf("membership: query: %w", err)
	}
}

// AddMember puts userID on the roster of group. Re-adding is a no-op.
func (c *PostgresChecker) AddMember(ctx context.Context, group string, userID int64) error {
	ref := GroupKey(group)
	if ref == "" || userID <= 0 {
		return errors.New("membership: invalid input")
	}
	q := fmt.Sprintf(`INSERT INTO %s (group_ref, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, c.table())
	if _, err := c.pool.Exec(ctx, q, ref, userID); err != nil {
		return fmt.Errorf("membership: add: %w", err)
	}
	return nil
}

// RemoveMember takes userID off the roster of group.
func (c *PostgresChecker) RemoveMember(ctx context.Context, group string, userID int64) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE group_ref = $1 AND user_id = $2`, c.table())
	if _, err := c.pool.Exec(ctx, q, GroupKey(group), userID); err != nil {
		return fmt.Errorf("membership: remove: %w", err)
	}
	return nil
}

func (c *PostgresChecker) table() string {
	return pgx.Identifier{c.schema, "group_members"}.Sanitize()
}

// GroupKey normalizes a group reference for roster lookups: "@Name", "name" and
// "https://t.me/Name" all map to "name". Invite links and numeric ids are kept
// verbatim (trimmed).
func GroupKey(group string) string {
	g := strings.TrimSpace(group)
	if g == "" {
		return ""
	}
	for _, p := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if rest, ok := strings.CutPrefix(g, p); ok {
			if strings.HasPrefix(rest, "+") || strings.HasPrefix(rest, "joinchat/") {
				return g
			}
			g = strings.TrimSuffix(rest, "/")
			break
		}
	}
	if strings.HasPrefix(g, "-") || isDigits(g) {
		return g
	}
	return identity.NormalizeUsername(g)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
