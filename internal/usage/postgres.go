package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/zhenhai/internal/db"
)

// PostgresStore keeps counters in the feature_usage table. Day rollover is
// resolved inside the upsert so concurrent increments never lose updates.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, timeout: timeout}
}

func (s *PostgresStore) Seed(ctx context.Context, features []string, day time.Time) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	batch := &pgx.Batch{}
	for _, f := range features {
		batch.Queue(
			`INSERT INTO feature_usage (feature, count, date) VALUES ($1, 0, $2)
			 ON CONFLICT (feature) DO NOTHING`,
			f, day,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed usage: %w", db.Classify(err))
	}
	return nil
}

func (s *PostgresStore) Increment(ctx context.Context, feature string, day time.Time) (int, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var count int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO feature_usage (feature, count, date) VALUES ($1, 1, $2)
		 ON CONFLICT (feature) DO UPDATE SET
			count = CASE
				WHEN feature_usage.date = EXCLUDED.date THEN feature_usage.count + 1
				ELSE 1
			END,
			date = EXCLUDED.date
		 RETURNING count`,
		feature, day,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", db.Classify(err))
	}
	return count, nil
}

func (s *PostgresStore) IncrementBelow(ctx context.Context, feature string, day time.Time, limit int) (int, bool, error) {
	if limit <= 0 {
		count, err := s.Increment(ctx, feature, day)
		return count, err == nil, err
	}

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var count int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO feature_usage (feature, count, date) VALUES ($1, 1, $2)
		 ON CONFLICT (feature) DO UPDATE SET
			count = CASE
				WHEN feature_usage.date = EXCLUDED.date THEN feature_usage.count + 1
				ELSE 1
			END,
			date = EXCLUDED.date
		 WHERE feature_usage.date <> EXCLUDED.date OR feature_usage.count < $3
		 RETURNING count`,
		feature, day, limit,
	).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("gate usage: %w", db.Classify(err))
	}

	// The conditional update matched nothing: the limit is already reached today.
	err = s.pool.QueryRow(ctx,
		`SELECT count FROM feature_usage WHERE feature=$1 AND date=$2`,
		feature, day,
	).Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("read usage: %w", db.Classify(err))
	}
	return count, false, nil
}

func (s *PostgresStore) List(ctx context.Context, day time.Time) ([]Counter, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT feature, CASE WHEN date = $1 THEN count ELSE 0 END
		   FROM feature_usage ORDER BY feature`,
		day,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", db.Classify(err))
	}
	defer rows.Close()

	var out []Counter
	for rows.Next() {
		c := Counter{Date: day}
		if err := rows.Scan(&c.Feature, &c.Count); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", db.Classify(err))
	}
	return out, nil
}
