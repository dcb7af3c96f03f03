package usage

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore creates a postgres-backed store when a pool is available, otherwise in-memory.
func NewStore(pool *pgxpool.Pool, timeout time.Duration) Store {
	if pool == nil {
		return NewInMemoryStore()
	}
	return NewPostgresStore(pool, timeout)
}
