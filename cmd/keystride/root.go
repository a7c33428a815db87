// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/keystride/keystride/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Keystride CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystride",
		Short: "Keystride - typing practice backend",
		Long: `Keystride serves accounts, session tokens and typing progress
over a JSON API backed by PostgreSQL.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/keystride/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// NewConfigCmd creates the config subcommand, which prints the effective
// configuration with secrets masked.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Load configuration from defaults, the config file, the environment
and flags, then print the result as YAML. Secrets are masked.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return err
			}
			cmd.Print(string(out))

			if err := cfg.Validate(); err != nil {
				cmd.PrintErrln("warning:", err)
			}
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}
