// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

// Package store owns the PostgreSQL connection pool and the schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connect retry defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
)

type connectConfig struct {
	attempts uint64
	backoff  time.Duration
	maxConns int32
	logger   *slog.Logger
}

// ConnectOption configures Connect.
type ConnectOption func(*connectConfig)

// WithConnectAttempts sets how many times the initial ping is retried.
func WithConnectAttempts(n uint64) ConnectOption {
	return func(c *connectConfig) { c.attempts = n }
}

// WithConnectBackoff sets the base of the exponential backoff between attempts.
func WithConnectBackoff(d time.Duration) ConnectOption {
	return func(c *connectConfig) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) ConnectOption {
	return func(c *connectConfig) { c.maxConns = n }
}

// WithConnectLogger sets the logger used to report failed attempts.
func WithConnectLogger(l *slog.Logger) ConnectOption {
	return func(c *connectConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// while the database is unreachable. A malformed DSN fails immediately.
func Connect(ctx context.Context, dsn string, opts ...ConnectOption) (*pgxpool.Pool, error) {
	cfg := connectConfig{
		attempts: DefaultConnectAttempts,
		backoff:  DefaultConnectBackoff,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_INVALID_DSN").With("operation", "parse database url").Wrap(err)
	}
	if cfg.maxConns > 0 {
		poolCfg.MaxConns = cfg.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	var attempt int
	backoff := retry.WithMaxRetries(cfg.attempts, retry.NewExponential(cfg.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			cfg.logger.Warn("database not reachable",
				"attempt", attempt,
				"error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ready returns a readiness probe that pings the database.
func Ready(p Pinger) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return p.Ping(ctx) == nil
	}
}
