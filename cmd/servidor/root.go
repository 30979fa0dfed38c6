// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the servidor CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servidor",
		Short: "servidor - session-based authentication service",
		Long: `servidor serves registration, login and session management over HTTP,
with email verification codes and password reset by email.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML, default $XDG_CONFIG_HOME/servidor/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCleanupCmd())

	return cmd
}
