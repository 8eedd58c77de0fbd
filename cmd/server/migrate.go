package main

import (
	"errors"

	"github.com/spf13/cobra"

	"consent-manager/internal/platform/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := postgres.Open(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			if db == nil {
				return errors.New("DATABASE_URL is required for migrate")
			}
			defer db.Close()

			if err := postgres.Migrate(ctx, db, log); err != nil {
				return err
			}
			log.Info("migrations complete")
			return nil
		},
	}
}
