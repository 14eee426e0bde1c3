// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/botcmd/internal/config"
	"github.com/holomush/botcmd/internal/store"
)

// Migrator is the part of *store.Migrator the migrate commands drive.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Pending() ([]uint, error)
	Close() error
}

// MigratorFactory opens a migrator for a database URL.
type MigratorFactory func(databaseURL string) (Migrator, error)

func defaultMigratorFactory(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand. A nil factory uses
// store.NewMigrator.
func NewMigrateCmd(root *rootOptions, factory MigratorFactory) *cobra.Command {
	if factory == nil {
		factory = defaultMigratorFactory
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL cooldown schema",
		Long: `Apply or roll back the kv_entries schema used by the postgres store driver.
The database URL comes from BOTCMD_DATABASE_URL or store.dsn.`,
	}

	withMigrator := func(fn func(cmd *cobra.Command, m Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			url := cfg.DatabaseURL()
			if url == "" {
				return oops.Code(config.CodeInvalidConfig).
					Hint("set BOTCMD_DATABASE_URL or store.dsn").
					Errorf("a database URL is required")
			}
			m, err := factory(url)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := m.Close(); closeErr != nil {
					cmd.PrintErrln("Warning: closing migrator:", closeErr)
				}
			}()
			return fn(cmd, m)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator) error {
			pending, err := m.Pending()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("Schema is up to date")
				return nil
			}
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Printf("Applied %d migration(s)\n", len(pending))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, deleting cooldown state",
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator) error {
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Rolled back all migrations")
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if dirty {
				cmd.Printf("Version %d (dirty)\n", version)
				return nil
			}
			cmd.Printf("Version %d\n", version)
			return nil
		}),
	})

	return cmd
}
