// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/Heur-a/servidor/internal/auth/postgres"
)

// NewCleanupCmd creates the cleanup subcommand.
func NewCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Purge expired sessions and verification codes",
		Long: `Delete expired sessions and verification codes from PostgreSQL.
Redis-backed stores expire their keys on their own and need no cleanup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCleanupWithDeps(cmd.Context(), cmd, nil)
		},
	}
}

func runCleanupWithDeps(ctx context.Context, cmd *cobra.Command, deps *CleanupDeps) error {
	deps = deps.withDefaults()

	url, err := deps.DatabaseURLGetter()
	if err != nil {
		return err
	}
	pool, err := deps.PoolFactory(ctx, url)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	now := time.Now()
	codes, err := postgres.NewCodeRepository(pool).DeleteExpired(ctx, now)
	if err != nil {
		return oops.Code("CLEANUP_FAILED").With("operation", "delete expired codes").Wrap(err)
	}
	sessions, err := postgres.NewSessionRepository(pool).DeleteExpired(ctx, now)
	if err != nil {
		return oops.Code("CLEANUP_FAILED").With("operation", "delete expired sessions").Wrap(err)
	}

	cmd.Printf("Deleted %d expired verification codes and %d expired sessions\n", codes, sessions)
	return nil
}
