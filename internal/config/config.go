// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

// Package config loads servidor settings from flag defaults, an optional YAML
// file, command-line flags and secret environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/Heur-a/servidor/internal/logging"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Environment variables holding secrets. Secrets are never read from flags.
const (
	EnvDatabaseURL   = "DATABASE_URL"
	EnvSMTPPassword  = "SMTP_PASSWORD"
	EnvRedisPassword = "REDIS_PASSWORD"
)

// Config is the complete servidor configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Stores   StoresConfig   `koanf:"stores"`
	Auth     AuthConfig     `koanf:"auth"`
	SMTP     SMTPConfig     `koanf:"smtp"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format" validate:"oneof=json text"`
	Level  string `koanf:"level"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr         string `koanf:"addr" validate:"required"`
	SecureCookie bool   `koanf:"secure_cookie"`
}

// MetricsConfig configures the metrics and health listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	URL             string `koanf:"url"`
	MaxConns        int32  `koanf:"max_conns" validate:"gte=0"`
	ConnectAttempts uint64 `koanf:"connect_attempts" validate:"gte=1"`
	AutoMigrate     bool   `koanf:"auto_migrate"`
}

// RedisConfig configures the Redis client used by redis-backed stores.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
	Prefix   string `koanf:"prefix"`
}

// StoresConfig selects a backend per store.
type StoresConfig struct {
	Users    string `koanf:"users" validate:"oneof=postgres memory"`
	Sessions string `koanf:"sessions" validate:"oneof=postgres redis memory"`
	Codes    string `koanf:"codes" validate:"oneof=postgres redis memory"`
}

// AuthConfig holds lifetimes of sessions and verification codes.
type AuthConfig struct {
	SessionTTL time.Duration `koanf:"session_ttl" validate:"gt=0"`
	CodeTTL    time.Duration `koanf:"code_ttl" validate:"gt=0"`
}

// SMTPConfig configures outgoing email.
type SMTPConfig struct {
	Host     string `koanf:"host" validate:"required"`
	Port     int    `koanf:"port" validate:"gte=1,lte=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from" validate:"required,email"`
	AppName  string `koanf:"app_name"`
	Retries  uint64 `koanf:"retries"`
}

// flagKeys maps each command-line flag to its configuration key.
var flagKeys = map[string]string{
	"log-format":          "log.format",
	"log-level":           "log.level",
	"http-addr":           "http.addr",
	"secure-cookie":       "http.secure_cookie",
	"metrics-addr":        "metrics.addr",
	"db-max-conns":        "database.max_conns",
	"db-connect-attempts": "database.connect_attempts",
	"auto-migrate":        "database.auto_migrate",
	"redis-addr":          "redis.addr",
	"redis-db":            "redis.db",
	"redis-prefix":        "redis.prefix",
	"users-store":         "stores.users",
	"sessions-store":      "stores.sessions",
	"codes-store":         "stores.codes",
	"session-ttl":         "auth.session_ttl",
	"code-ttl":            "auth.code_ttl",
	"smtp-host":           "smtp.host",
	"smtp-port":           "smtp.port",
	"smtp-username":       "smtp.username",
	"smtp-from":           "smtp.from",
	"smtp-app-name":       "smtp.app_name",
	"smtp-retries":        "smtp.retries",
}

// RegisterFlags defines every configuration flag on fs. Flag defaults are the
// configuration defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("http-addr", "127.0.0.1:8080", "auth API listen address")
	fs.Bool("secure-cookie", false, "mark the session cookie Secure (HTTPS only)")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	fs.Int32("db-max-conns", 0, "maximum database connections (0 = pgx default)")
	fs.Uint64("db-connect-attempts", 5, "database connection attempts at startup")
	fs.Bool("auto-migrate", true, "apply pending migrations at startup")
	fs.String("redis-addr", "", "Redis address for redis-backed stores")
	fs.Int("redis-db", 0, "Redis database number")
	fs.String("redis-prefix", "servidor:", "prefix for every Redis key")
	fs.String("users-store", StorePostgres, "user store (postgres or memory)")
	fs.String("sessions-store", StorePostgres, "session store (postgres, redis or memory)")
	fs.String("codes-store", StorePostgres, "verification code store (postgres, redis or memory)")
	fs.Duration("session-ttl", 24*time.Hour, "lifetime of authenticated sessions")
	fs.Duration("code-ttl", 15*time.Minute, "lifetime of verification codes")
	fs.String("smtp-host", "", "SMTP server host")
	fs.Int("smtp-port", 587, "SMTP server port")
	fs.String("smtp-username", "", "SMTP username")
	fs.String("smtp-from", "", "sender address of outgoing email")
	fs.String("smtp-app-name", "Servidor", "application name used in email subjects")
	fs.Uint64("smtp-retries", 0, "retries for transient SMTP failures (0 = fail on first error)")
}

// Load builds the configuration. fs must have been parsed and carry the flags
// from RegisterFlags. path names an optional YAML file. getenv supplies the
// secret environment variables.
func Load(fs *pflag.FlagSet, path string, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	// Unchanged flags only fill keys the file left unset.
	provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").With("path", path).Wrap(err)
	}

	if getenv != nil {
		applySecret(&cfg.Database.URL, getenv(EnvDatabaseURL))
		applySecret(&cfg.SMTP.Password, getenv(EnvSMTPPassword))
		applySecret(&cfg.Redis.Password, getenv(EnvRedisPassword))
	}
	return &cfg, nil
}

func applySecret(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// usesStore reports whether any store is served by backend.
func (c *Config) usesStore(backend string) bool {
	return c.Stores.Users == backend || c.Stores.Sessions == backend || c.Stores.Codes == backend
}

// UsesPostgres reports whether a database connection is needed.
func (c *Config) UsesPostgres() bool {
	return c.usesStore(StorePostgres)
}

// UsesRedis reports whether a Redis connection is needed.
func (c *Config) UsesRedis() bool {
	return c.usesStore(StoreRedis)
}

// Validate checks the configuration for serving.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return oops.Code("CONFIG_INVALID").
				With("field", verrs[0].Namespace()).
				Errorf("%s fails %q", strings.ToLower(verrs[0].Namespace()), verrs[0].Tag())
		}
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("field", "log.level").Wrap(err)
	}
	if c.UsesPostgres() && c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "database.url").
			Errorf("%s environment variable is required for postgres stores", EnvDatabaseURL)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return oops.Code("CONFIG_INVALID").
			With("field", "redis.addr").
			Errorf("redis.addr is required for redis stores")
	}
	// Stored sessions reference users by foreign key.
	if c.Stores.Sessions == StorePostgres && c.Stores.Users != StorePostgres {
		return oops.Code("CONFIG_INVALID").
			With("field", "stores.sessions").
			Errorf("postgres sessions require postgres users")
	}
	return nil
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}
