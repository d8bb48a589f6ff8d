package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/justestif/soundshelf/internal/db"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.MemoryCatalog() {
				return errors.New("no database_url configured")
			}

			database, err := db.New(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info().Msg("schema applied")
			return nil
		},
	}
}
