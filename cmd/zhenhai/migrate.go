package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/zhenhai/internal/db"
	"github.com/ent0n29/zhenhai/internal/logging"
	"github.com/ent0n29/zhenhai/internal/usage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the postgres schema, seed feature counters and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, logger, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for migrate")
		}
		// Open applies the schema once the first ping succeeds.
		pool, err := db.Open(ctx, db.Config{
			URL:            cfg.DatabaseURL,
			MaxConns:       1,
			AcquireTimeout: cfg.DBAcquireTimeout,
			ConnectRetries: cfg.DBConnectRetries,
			Logger:         logging.Named(logger, "db"),
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		store := usage.NewPostgresStore(pool, cfg.DBAcquireTimeout)
		if err := store.Seed(ctx, usage.Features, usage.Day(time.Now(), cfg.UsageLocation)); err != nil {
			return fmt.Errorf("seed usage counters: %w", err)
		}
		logger.Info("schema is up to date", "features", len(usage.Features))
		return nil
	},
}
