package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/threemeal/backend/internal/app"
	"github.com/kimhsiao/threemeal/backend/internal/db"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	// withMigrator opens the database without migrating it.
	withMigrator := func(cmd *cobra.Command, fn func(m *db.Migrator) error) error {
		cfg, err := opts.load()
		if err != nil {
			return err
		}
		database, err := app.OpenDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		return fn(db.NewEmbeddedMigrator(database.DB))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *db.Migrator) error {
				if err := m.Up(cmd.Context()); err != nil {
					return err
				}
				v, err := m.CurrentVersion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *db.Migrator) error {
				if err := m.Down(cmd.Context()); err != nil {
					return err
				}
				v, err := m.CurrentVersion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", v)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *db.Migrator) error {
				if err := m.Initialize(cmd.Context()); err != nil {
					return err
				}
				applied, err := m.Applied(cmd.Context())
				if err != nil {
					return err
				}
				pending, err := m.Pending(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				for _, mig := range applied {
					fmt.Fprintf(out, "V%d | applied | %s | %s\n", mig.Version, mig.AppliedAt.Format("2006-01-02 15:04:05"), mig.Description)
				}
				for _, v := range pending {
					fmt.Fprintf(out, "V%d | pending\n", v)
				}
				return nil
			})
		},
	})
	return cmd
}
