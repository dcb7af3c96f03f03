package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS user_memory (
		user_id TEXT PRIMARY KEY,
		summary TEXT NOT NULL DEFAULT '',
		continuation_handle TEXT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0 CHECK (turn_count >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE TABLE IF NOT EXISTS feature_usage (
		feature TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
		date DATE NOT NULL
	);`,
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, Classify(err))
		}
	}
	return nil
}
