// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/Heur-a/servidor/internal/auth"
	"github.com/Heur-a/servidor/internal/auth/memstore"
	"github.com/Heur-a/servidor/internal/auth/postgres"
	authredis "github.com/Heur-a/servidor/internal/auth/redis"
	"github.com/Heur-a/servidor/internal/config"
	"github.com/Heur-a/servidor/internal/logging"
	"github.com/Heur-a/servidor/internal/observability"
	"github.com/Heur-a/servidor/internal/store"
	"github.com/Heur-a/servidor/internal/web"
	"github.com/Heur-a/servidor/internal/xdg"
)

// shutdownTimeout bounds the graceful stop of both servers.
const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth API server",
		Long: `Start the auth HTTP API together with the metrics and health server.
Secrets are read from DATABASE_URL, SMTP_PASSWORD and REDIS_PASSWORD.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps := (*ServeDeps)(nil).withDefaults()
			cfg, err := loadServeConfig(cmd, configFile, deps)
			if err != nil {
				return err
			}
			return runServeWithDeps(ctx, cfg, cmd, deps)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

// loadServeConfig resolves the config file and loads the configuration with
// secrets read through deps.Getenv.
func loadServeConfig(cmd *cobra.Command, explicitPath string, deps *ServeDeps) (*config.Config, error) {
	deps = deps.withDefaults()

	path, err := xdg.ResolveConfigFile(explicitPath)
	if err != nil {
		return nil, err
	}
	return config.Load(cmd.Flags(), path, deps.Getenv)
}

// stores groups the backends selected by configuration.
type stores struct {
	users    auth.UserRepository
	sessions auth.SessionStore
	codes    auth.CodeStore
}

// runServeWithDeps serves until ctx is cancelled or a server fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "validate configuration").Wrap(err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup("servidor", version, cfg.Log.Format, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	logger.InfoContext(ctx, "starting servidor",
		"http_addr", cfg.HTTP.Addr,
		"users_store", cfg.Stores.Users,
		"sessions_store", cfg.Stores.Sessions,
		"codes_store", cfg.Stores.Codes)

	var (
		pool     Pool
		rdb      goredis.UniversalClient
		backends stores
		checks   []observability.ReadinessChecker
	)

	if cfg.UsesPostgres() {
		pool, err = deps.PoolFactory(ctx, cfg.Database.URL,
			store.WithConnectAttempts(cfg.Database.ConnectAttempts),
			store.WithMaxConns(cfg.Database.MaxConns),
			store.WithConnectLogger(logger))
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		defer pool.Close()
		checks = append(checks, store.Ready(pool))
		logger.InfoContext(ctx, "connected to database")

		if cfg.Database.AutoMigrate {
			if err := autoMigrate(cfg.Database.URL, deps.MigratorFactory, logger); err != nil {
				return err
			}
		}
	}

	if cfg.UsesRedis() {
		rdb, err = deps.RedisFactory(ctx, authredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return oops.Code("REDIS_CONNECT_FAILED").With("operation", "connect to redis").Wrap(err)
		}
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				logger.Warn("failed to close redis client", "error", closeErr)
			}
		}()
		checks = append(checks, func(ctx context.Context) bool { return rdb.Ping(ctx).Err() == nil })
		logger.InfoContext(ctx, "connected to redis", "addr", cfg.Redis.Addr)
	}

	backends = selectStores(cfg, pool, rdb)

	sessions, err := auth.NewSessionManager(backends.sessions, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}
	issuer, err := auth.NewCodeIssuer(backends.codes, auth.WithCodeTTL(cfg.Auth.CodeTTL))
	if err != nil {
		return err
	}
	notifier := deps.NotifierFactory(cfg.SMTP, cfg.Auth.CodeTTL, logger)
	svc, err := auth.NewAuthService(backends.users, sessions, issuer, notifier, auth.NewArgon2idHasher(),
		auth.WithLogger(logger))
	if err != nil {
		return err
	}

	var (
		metrics *observability.Metrics
		obsErr  <-chan error
	)
	if cfg.Metrics.Addr != "" {
		obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, allReady(checks))
		obsErr, err = obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		defer stopServer(obsServer, "observability", logger)
		metrics = obsServer.Metrics()
	}

	handler, err := web.NewHandler(svc, sessions,
		web.WithLogger(logger),
		web.WithMetrics(metrics),
		web.WithSecureCookie(cfg.HTTP.SecureCookie))
	if err != nil {
		return err
	}
	webServer := deps.WebServerFactory(cfg.HTTP.Addr, handler.Router())
	webErr, err := webServer.Start()
	if err != nil {
		return oops.Code("WEB_START_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	defer stopServer(webServer, "web", logger)

	logger.InfoContext(ctx, "servidor ready", "http_addr", webServer.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err, ok := <-webErr:
		if !ok {
			return nil
		}
		return oops.Code("WEB_SERVE_FAILED").Wrap(err)
	case err, ok := <-obsErr:
		if !ok {
			return nil
		}
		return oops.Code("OBSERVABILITY_SERVE_FAILED").Wrap(err)
	}
}

// selectStores builds the configured backend of every store.
func selectStores(cfg *config.Config, pool Pool, rdb goredis.UniversalClient) stores {
	var s stores

	switch cfg.Stores.Users {
	case config.StorePostgres:
		s.users = postgres.NewUserRepository(pool)
	default:
		s.users = memstore.NewUserRepository()
	}

	switch cfg.Stores.Sessions {
	case config.StorePostgres:
		s.sessions = postgres.NewSessionRepository(pool)
	case config.StoreRedis:
		s.sessions = authredis.NewSessionStore(rdb, cfg.Redis.Prefix)
	default:
		s.sessions = memstore.NewSessionStore()
	}

	switch cfg.Stores.Codes {
	case config.StorePostgres:
		s.codes = postgres.NewCodeRepository(pool)
	case config.StoreRedis:
		s.codes = authredis.NewCodeStore(rdb, cfg.Redis.Prefix)
	default:
		s.codes = memstore.NewCodeStore()
	}
	return s
}

// autoMigrate applies pending migrations before serving.
func autoMigrate(url string, factory func(string) (Migrator, error), logger *slog.Logger) error {
	migrator, err := factory(url)
	if err != nil {
		return oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database schema up to date")
	return nil
}

// allReady passes only when every check passes. No checks means ready.
func allReady(checks []observability.ReadinessChecker) observability.ReadinessChecker {
	return func(ctx context.Context) bool {
		for _, check := range checks {
			if !check(ctx) {
				return false
			}
		}
		return true
	}
}

type stoppable interface {
	Stop(ctx context.Context) error
}

func stopServer(s stoppable, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("failed to stop server", "server", name, "error", err)
	}
}
