package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"botgate/cmd/internal/membership"
)

const (
	rosterAppName     = "botgate"
	rosterOpenTimeout = 3 * time.Second
)

var errRosterURL = errors.New("DATABASE_URL is empty")

// rosterPoolConfig parses DATABASE_URL and applies pool sizing. MinConns is
// clamped to MaxConns so a misconfigured pair still yields a usable pool.
func rosterPoolConfig(cfg Config) (*pgxpool.Config, error) {
	if cfg.DatabaseURL == "" {
		return nil, errRosterURL
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("DATABASE_URL: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		pcfg.MinConns = min(cfg.DBMinConns, pcfg.MaxConns)
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = rosterAppName
	}
	return pcfg, nil
}

// openRoster connects to Postgres, checks it answers, and makes sure the
// membership table exists in MEMBERSHIP_SCHEMA.
func openRoster(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, *membership.PostgresChecker, error) {
	pcfg, err := rosterPoolConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, err
	}

	if err := pingRoster(ctx, pool, rosterOpenTimeout); err != nil {
		pool.Close()
		return nil, nil, err
	}

	roster, err := membership.NewPostgresChecker(pool, membership.WithSchema(cfg.MembershipSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := roster.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("roster schema %q: %w", cfg.MembershipSchema, err)
	}

	log.Info("db.enabled",
		"schema", cfg.MembershipSchema,
		"max_conns", pcfg.MaxConns,
		"min_conns", pcfg.MinConns,
	)
	return pool, roster, nil
}

// pingRoster reports whether the roster database answers within timeout.
func pingRoster(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
