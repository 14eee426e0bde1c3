// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/botcmd/internal/config"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// load reads the configuration for a subcommand, applying the subcommand's
// own flags when it has any.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		Path:  o.configFile,
		Flags: cmd.Flags(),
	})
}

// NewRootCmd creates the root command for the botcmd CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "botcmd",
		Short: "botcmd - a prefix command bot for chat platforms",
		Long: `botcmd dispatches prefixed chat messages to commands with cooldowns,
per-user exclusive runs, permission checks, and hooks. Commands come from
the config file and from Lua scripts.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/botcmd/config.yaml)")

	cmd.AddCommand(NewRunCmd(opts, nil))
	cmd.AddCommand(NewMigrateCmd(opts, nil))
	cmd.AddCommand(NewConfigCmd(opts))

	return cmd
}
