package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sif-factory/sif/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the state database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRawStore(cmd.Context(), func(ctx context.Context, s *stores.SQLiteStore) error {
				if err := s.Migrate(ctx); err != nil {
					return err
				}
				return printMigrationStatus(ctx, s)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRawStore(cmd.Context(), func(ctx context.Context, s *stores.SQLiteStore) error {
				if err := s.MigrateDown(ctx); err != nil {
					return err
				}
				return printMigrationStatus(ctx, s)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRawStore(cmd.Context(), printMigrationStatus)
		},
	})

	return cmd
}

// withRawStore opens the database without migrating it.
func withRawStore(ctx context.Context, fn func(context.Context, *stores.SQLiteStore) error) error {
	s, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer s.Close()
	return fn(ctx, s)
}

func printMigrationStatus(ctx context.Context, s *stores.SQLiteStore) error {
	status, err := s.MigrationStatus(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(status)
	}
	state := "clean"
	if status.Dirty {
		state = "dirty"
	}
	fmt.Printf("Schema version %d (%s)\n", status.Version, state)
	return nil
}
