// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/Heur-a/servidor/internal/config"
	"github.com/Heur-a/servidor/internal/store"
)

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back or inspect the PostgreSQL schema migrations.
The database URL is read from the DATABASE_URL environment variable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, nil)
		},
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateUp(cmd, nil)
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration (or all with --all)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateDown(cmd, all, nil)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrateStatus(cmd, nil)
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag.
Use after fixing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateForce(cmd, args[0], nil)
		},
	}
}

// getDatabaseURL reads the database URL from the environment.
func getDatabaseURL() (string, error) {
	url := os.Getenv(config.EnvDatabaseURL)
	if url == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("%s environment variable is required", config.EnvDatabaseURL)
	}
	return url, nil
}

// parseForceVersion parses the leading integer of s.
func parseForceVersion(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, oops.Code("INVALID_VERSION").Errorf("version is required")
	}
	var version int
	if _, err := fmt.Sscanf(s, "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}

// openMigrator resolves the database URL and creates a migrator.
func openMigrator(deps *MigrateDeps) (Migrator, error) {
	url, err := deps.DatabaseURLGetter()
	if err != nil {
		return nil, err
	}
	migrator, err := deps.MigratorFactory(url)
	if err != nil {
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	return migrator, nil
}

// withMigrator runs fn against a fresh migrator and closes it afterwards.
func withMigrator(deps *MigrateDeps, fn func(Migrator) error) (err error) {
	migrator, err := openMigrator(deps.withDefaults())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(migrator)
}

func runMigrateUp(cmd *cobra.Command, deps *MigrateDeps) error {
	return withMigrator(deps, func(m Migrator) error {
		cmd.Println("Applying migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "migrate up").Wrap(err)
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, all bool, deps *MigrateDeps) error {
	return withMigrator(deps, func(m Migrator) error {
		if all {
			cmd.Println("Rolling back all migrations...")
			if err := m.Down(); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "migrate down").Wrap(err)
			}
		} else {
			cmd.Println("Rolling back one migration...")
			if err := m.Steps(-1); err != nil {
				return oops.Code("MIGRATION_FAILED").With("operation", "migrate down one").Wrap(err)
			}
		}
		cmd.Println("Rollback completed successfully")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, deps *MigrateDeps) error {
	return withMigrator(deps, func(m Migrator) error {
		status, err := m.Status()
		if err != nil {
			return oops.Code("MIGRATION_STATUS_FAILED").Wrap(err)
		}

		cmd.Printf("Current version: %d", status.Version)
		if status.Dirty {
			cmd.Print(" (dirty)")
		}
		cmd.Println()
		printVersions(cmd, "Applied", status.Applied)
		printVersions(cmd, "Pending", status.Pending)
		return nil
	})
}

func printVersions(cmd *cobra.Command, label string, versions []uint) {
	if len(versions) == 0 {
		cmd.Printf("%s: none\n", label)
		return
	}
	cmd.Printf("%s:\n", label)
	for _, v := range versions {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		cmd.Printf("  %s\n", name)
	}
}

func runMigrateForce(cmd *cobra.Command, arg string, deps *MigrateDeps) error {
	version, err := parseForceVersion(arg)
	if err != nil {
		return err
	}
	return withMigrator(deps, func(m Migrator) error {
		if err := m.Force(version); err != nil {
			return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
		}
		cmd.Printf("Schema version forced to %d\n", version)
		return nil
	})
}
