package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/novacore/novacore/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the metadata store schema (functions, schedules, execution logs)",
		Long:  "Connects to Postgres and ensures the functions, schedules, and execution_logs tables exist. NewPostgresStore runs this schema check on every connect; this subcommand exists to apply it without starting the server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := store.NewPostgresStore(context.Background(), cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer s.Close()
			fmt.Println("schema up to date")
			return nil
		},
	}
}
