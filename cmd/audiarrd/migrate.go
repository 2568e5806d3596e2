package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/audiarr/audiarr/internal/platform/sqlite"
)

// migrateCmd applies pending database migrations and exits.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigAndLogger()
		if err != nil {
			return err
		}

		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = db.Close() }()

		if err := sqlite.Migrate(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		slog.Info("migrations applied", "path", cfg.Database.Path)
		return nil
	},
}
