// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

// Package redis implements the auth code and session stores on Redis.
// Expiry is delegated to key TTLs, so DeleteExpired has nothing to purge.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// DefaultKeyPrefix namespaces every key written by this package.
const DefaultKeyPrefix = "servidor:"

// Options configures a Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Connect creates a client and verifies it with PING.
func Connect(ctx context.Context, opts Options) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").
			With("addr", opts.Addr).
			Wrap(err)
	}
	return client, nil
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return DefaultKeyPrefix
	}
	return prefix
}

// ttlUntil returns the key lifetime for a record expiring at expiresAt.
// Records already expired get the smallest TTL Redis accepts.
func ttlUntil(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}
