// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heur-a/servidor/internal/auth"
	authredis "github.com/Heur-a/servidor/internal/auth/redis"
	"github.com/Heur-a/servidor/internal/config"
	"github.com/Heur-a/servidor/internal/observability"
	"github.com/Heur-a/servidor/internal/store"
	"github.com/Heur-a/servidor/internal/web"
	"github.com/Heur-a/servidor/pkg/errutil"
)

// discardNotifier accepts every email.
type discardNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *discardNotifier) SendVerificationEmail(_ context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codes == nil {
		n.codes = map[string]string{}
	}
	n.codes[email] = code
	return nil
}

func (n *discardNotifier) SendPasswordResetEmail(context.Context, string, string) error {
	return nil
}

// announcingServer reports its address once started.
type announcingServer struct {
	WebServer
	started chan<- string
}

func (s *announcingServer) Start() (<-chan error, error) {
	errCh, err := s.WebServer.Start()
	if err == nil {
		s.started <- s.WebServer.Addr()
	}
	return errCh, err
}

func quietCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd
}

func memoryConfig() *config.Config {
	return &config.Config{
		Log:      config.LogConfig{Format: "json", Level: "debug"},
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{ConnectAttempts: 1},
		Stores:   config.StoresConfig{Users: config.StoreMemory, Sessions: config.StoreMemory, Codes: config.StoreMemory},
		Auth:     config.AuthConfig{SessionTTL: time.Hour, CodeTTL: time.Minute},
		SMTP:     config.SMTPConfig{Host: "localhost", Port: 2525, From: "noreply@example.com"},
	}
}

func serveDeps(started chan<- string) *ServeDeps {
	return &ServeDeps{
		NotifierFactory: func(config.SMTPConfig, time.Duration, *slog.Logger) auth.Notifier {
			return &discardNotifier{}
		},
		WebServerFactory: func(addr string, handler http.Handler) WebServer {
			return &announcingServer{WebServer: web.NewServer(addr, handler), started: started}
		},
	}
}

// startServe runs serve in the background and returns the API base URL and
// a stop function that returns serve's result.
func startServe(t *testing.T, cfg *config.Config, deps *ServeDeps) (string, func() error) {
	t.Helper()
	started := make(chan string, 1)
	if deps == nil {
		deps = serveDeps(started)
	} else if deps.WebServerFactory == nil {
		deps.WebServerFactory = serveDeps(started).WebServerFactory
	}
	if deps.NotifierFactory == nil {
		deps.NotifierFactory = serveDeps(started).NotifierFactory
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := quietCmd()
	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, cfg, cmd, deps) }()

	var addr string
	select {
	case addr = <-started:
	case err := <-done:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("serve did not start")
	}

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(15 * time.Second):
			t.Fatal("serve did not stop")
			return nil
		}
	}
	t.Cleanup(func() { cancel() })
	return "http://" + addr, stop
}

func register(t *testing.T, base string) *http.Response {
	t.Helper()
	resp, err := http.Post(base+"/auth/register", "application/json",
		strings.NewReader(`{"email":"ana@example.com","password":"correct horse","name":"Ana"}`))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestServe_MemoryStores(t *testing.T) {
	base, stop := startServe(t, memoryConfig(), nil)

	resp := register(t, base)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var sid *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == web.CookieName {
			sid = c
		}
	}
	require.NotNil(t, sid)

	req, err := http.NewRequest(http.MethodGet, base+"/auth/session", http.NoBody)
	require.NoError(t, err)
	req.AddCookie(sid)
	session, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	session.Body.Close()
	assert.Equal(t, http.StatusOK, session.StatusCode)

	require.NoError(t, stop())
}

func TestServe_MetricsServer(t *testing.T) {
	cfg := memoryConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"

	obsStarted := make(chan string, 1)
	deps := &ServeDeps{
		ObservabilityServerFactory: func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return &announcingObservability{Server: observability.NewServer(addr, ready), started: obsStarted}
		},
	}
	base, stop := startServe(t, cfg, deps)

	obsAddr := <-obsStarted
	register(t, base)

	ready, err := http.Get("http://" + obsAddr + "/healthz/readiness")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	metrics, err := http.Get("http://" + obsAddr + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	require.NoError(t, stop())
}

type announcingObservability struct {
	*observability.Server
	started chan<- string
}

func (s *announcingObservability) Start() (<-chan error, error) {
	errCh, err := s.Server.Start()
	if err == nil {
		s.started <- s.Server.Addr()
	}
	return errCh, err
}

func TestServe_RedisStores(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Stores.Sessions = config.StoreRedis
	cfg.Stores.Codes = config.StoreRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Prefix = "test:"

	base, stop := startServe(t, cfg, &ServeDeps{})

	assert.Equal(t, http.StatusCreated, register(t, base).StatusCode)

	var sessionKeys int
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "test:session:") {
			sessionKeys++
		}
	}
	assert.Equal(t, 1, sessionKeys)

	require.NoError(t, stop())
}

func TestServe_StartupFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid configuration", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.HTTP.Addr = ""
		cmd := quietCmd()

		err := runServeWithDeps(ctx, cfg, cmd, serveDeps(make(chan string, 1)))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("database unreachable", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Stores = config.StoresConfig{Users: config.StorePostgres, Sessions: config.StorePostgres, Codes: config.StorePostgres}
		cfg.Database.URL = "postgres://localhost/servidor"
		deps := serveDeps(make(chan string, 1))
		deps.PoolFactory = func(context.Context, string, ...store.ConnectOption) (Pool, error) {
			return nil, errors.New("connection refused")
		}
		cmd := quietCmd()

		err := runServeWithDeps(ctx, cfg, cmd, deps)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
	})

	t.Run("migration failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		mock.ExpectClose()

		cfg := memoryConfig()
		cfg.Stores = config.StoresConfig{Users: config.StorePostgres, Sessions: config.StorePostgres, Codes: config.StorePostgres}
		cfg.Database.URL = "postgres://localhost/servidor"
		cfg.Database.AutoMigrate = true

		migrator := &fakeMigrator{upErr: errors.New("dirty database version 2")}
		deps := serveDeps(make(chan string, 1))
		deps.PoolFactory = func(context.Context, string, ...store.ConnectOption) (Pool, error) { return mock, nil }
		deps.MigratorFactory = func(string) (Migrator, error) { return migrator, nil }
		cmd := quietCmd()

		err = runServeWithDeps(ctx, cfg, cmd, deps)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
		assert.True(t, migrator.closed)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Stores.Codes = config.StoreRedis
		cfg.Redis.Addr = "localhost:6379"
		deps := serveDeps(make(chan string, 1))
		deps.RedisFactory = func(context.Context, authredis.Options) (goredis.UniversalClient, error) {
			return nil, errors.New("dial tcp: refused")
		}
		cmd := quietCmd()

		err := runServeWithDeps(ctx, cfg, cmd, deps)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "REDIS_CONNECT_FAILED")
	})

	t.Run("port in use", func(t *testing.T) {
		base, stop := startServe(t, memoryConfig(), nil)
		defer func() { require.NoError(t, stop()) }()

		cfg := memoryConfig()
		cfg.HTTP.Addr = strings.TrimPrefix(base, "http://")
		cmd := quietCmd()

		err := runServeWithDeps(ctx, cfg, cmd, serveDeps(make(chan string, 1)))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "WEB_LISTEN_FAILED")
	})
}

func TestAllReady(t *testing.T) {
	ctx := context.Background()
	pass := func(context.Context) bool { return true }
	fail := func(context.Context) bool { return false }

	assert.True(t, allReady(nil)(ctx))
	assert.True(t, allReady([]observability.ReadinessChecker{pass, pass})(ctx))
	assert.False(t, allReady([]observability.ReadinessChecker{pass, fail})(ctx))
}

func TestLoadServeConfig_ReadsSecretsThroughDeps(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvDatabaseURL, "postgres://from-process-env/servidor")

	cmd := NewServeCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--smtp-host", "mail.example.com"}))

	secrets := map[string]string{
		config.EnvDatabaseURL:  "postgres://from-deps/servidor",
		config.EnvSMTPPassword: "smtp-secret",
	}
	deps := &ServeDeps{Getenv: func(key string) string { return secrets[key] }}

	cfg, err := loadServeConfig(cmd, "", deps)
	require.NoError(t, err)
	assert.Equal(t, "postgres://from-deps/servidor", cfg.Database.URL)
	assert.Equal(t, "smtp-secret", cfg.SMTP.Password)
	assert.Equal(t, "mail.example.com", cfg.SMTP.Host)
}
