// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/internal/auth/postgres"
	authredis "github.com/Heur-a/servidor/internal/auth/redis"
	"github.com/Heur-a/servidor/internal/config"
	"github.com/Heur-a/servidor/internal/notify"
	"github.com/Heur-a/servidor/internal/observability"
	"github.com/Heur-a/servidor/internal/store"
	"github.com/Heur-a/servidor/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory connects to Postgres.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, url string, opts ...store.ConnectOption) (Pool, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// RedisFactory connects to Redis.
	// Default: authredis.Connect
	RedisFactory func(ctx context.Context, opts authredis.Options) (goredis.UniversalClient, error)

	// NotifierFactory creates the email notifier.
	// Default: notify.NewSMTPNotifier
	NotifierFactory func(cfg config.SMTPConfig, codeTTL time.Duration, logger *slog.Logger) auth.Notifier

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// WebServerFactory creates the API server.
	// Default: web.NewServer
	WebServerFactory func(addr string, handler http.Handler) WebServer

	// Getenv reads secret environment variables.
	// Default: os.Getenv
	Getenv func(string) string
}

// MigrateDeps contains injectable dependencies for the migrate commands.
type MigrateDeps struct {
	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// DatabaseURLGetter returns the database URL.
	// Default: reads from DATABASE_URL environment variable
	DatabaseURLGetter func() (string, error)
}

// CleanupDeps contains injectable dependencies for the cleanup command.
type CleanupDeps struct {
	// PoolFactory connects to Postgres.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, url string, opts ...store.ConnectOption) (Pool, error)

	// DatabaseURLGetter returns the database URL.
	// Default: reads from DATABASE_URL environment variable
	DatabaseURLGetter func() (string, error)
}

// Pool wraps the methods used from *pgxpool.Pool.
type Pool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// WebServer wraps the methods used from web.Server.
type WebServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func defaultPoolFactory(ctx context.Context, url string, opts ...store.ConnectOption) (Pool, error) {
	return store.Connect(ctx, url, opts...)
}

func defaultMigratorFactory(url string) (Migrator, error) {
	return store.NewMigrator(url)
}

func defaultRedisFactory(ctx context.Context, opts authredis.Options) (goredis.UniversalClient, error) {
	return authredis.Connect(ctx, opts)
}

func defaultNotifierFactory(cfg config.SMTPConfig, codeTTL time.Duration, logger *slog.Logger) auth.Notifier {
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		AppName:  cfg.AppName,
	},
		notify.WithCodeTTL(codeTTL),
		notify.WithLogger(logger),
		notify.WithRetries(cfg.Retries, notify.DefaultRetryBackoff),
	)
}

func defaultObservabilityServerFactory(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
	return observability.NewServer(addr, readinessChecker)
}

func defaultWebServerFactory(addr string, handler http.Handler) WebServer {
	return web.NewServer(addr, handler)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.PoolFactory == nil {
		d.PoolFactory = defaultPoolFactory
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = defaultMigratorFactory
	}
	if d.RedisFactory == nil {
		d.RedisFactory = defaultRedisFactory
	}
	if d.NotifierFactory == nil {
		d.NotifierFactory = defaultNotifierFactory
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = defaultObservabilityServerFactory
	}
	if d.WebServerFactory == nil {
		d.WebServerFactory = defaultWebServerFactory
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	return d
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	if d == nil {
		d = &MigrateDeps{}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = defaultMigratorFactory
	}
	if d.DatabaseURLGetter == nil {
		d.DatabaseURLGetter = getDatabaseURL
	}
	return d
}

func (d *CleanupDeps) withDefaults() *CleanupDeps {
	if d == nil {
		d = &CleanupDeps{}
	}
	if d.PoolFactory == nil {
		d.PoolFactory = defaultPoolFactory
	}
	if d.DatabaseURLGetter == nil {
		d.DatabaseURLGetter = getDatabaseURL
	}
	return d
}
