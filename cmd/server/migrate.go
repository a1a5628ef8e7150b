package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tumi/internal/platform/config"
	"tumi/internal/platform/logger"
	"tumi/internal/platform/postgres"
	"tumi/internal/platform/postgres/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format)
			ctx := cmd.Context()

			db, err := postgres.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := migrations.Apply(ctx, db)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			if len(applied) == 0 {
				log.InfoContext(ctx, "database schema is up to date")
				return nil
			}
			log.InfoContext(ctx, "migrations applied", "migrations", applied)
			return nil
		},
	}
}
