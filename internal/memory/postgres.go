package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/zhenhai/internal/db"
)

// PostgresStore persists conversational memory in PostgreSQL. It borrows the
// pool; closing the pool is the owner's job.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore expects the schema from db.Migrate to exist. timeout bounds
// each call, including the wait for a pooled connection.
func NewPostgresStore(pool *pgxpool.Pool, timeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, timeout: timeout}
}

func (s *PostgresStore) Load(ctx context.Context, userID string) (UserMemory, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	m := UserMemory{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT summary, continuation_handle, turn_count, updated_at
		   FROM user_memory WHERE user_id=$1`,
		userID,
	).Scan(&m.Summary, &m.ContinuationHandle, &m.TurnCount, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Empty(userID), nil
		}
		return UserMemory{}, fmt.Errorf("load memory: %w", db.Classify(err))
	}
	return m, nil
}

func (s *PostgresStore) IncrementTurn(ctx context.Context, userID string) (UserMemory, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	m := UserMemory{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_memory (user_id, summary, continuation_handle, turn_count, updated_at)
		 VALUES ($1, '', NULL, 1, now())
		 ON CONFLICT (user_id) DO UPDATE SET
			turn_count = user_memory.turn_count + 1,
			updated_at = now()
		 RETURNING summary, continuation_handle, turn_count, updated_at`,
		userID,
	).Scan(&m.Summary, &m.ContinuationHandle, &m.TurnCount, &m.UpdatedAt)
	if err != nil {
		return UserMemory{}, fmt.Errorf("increment turn: %w", db.Classify(err))
	}
	return m, nil
}

func (s *PostgresStore) Save(ctx context.Context, m UserMemory) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_memory (user_id, summary, continuation_handle, turn_count, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (user_id) DO UPDATE SET
			summary=EXCLUDED.summary,
			continuation_handle=EXCLUDED.continuation_handle,
			turn_count=EXCLUDED.turn_count,
			updated_at=EXCLUDED.updated_at`,
		m.UserID,
		m.Summary,
		m.ContinuationHandle,
		m.TurnCount,
	)
	if err != nil {
		return fmt.Errorf("save memory: %w", db.Classify(err))
	}
	return nil
}
