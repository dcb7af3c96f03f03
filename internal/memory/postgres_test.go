package memory

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/zhenhai/internal/db"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ZHENHAI_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("ZHENHAI_TEST_DATABASE_URL not set")
	}
	pool, err := db.Open(context.Background(), db.Config{URL: dsn, AcquireTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgresStore(pool, 5*time.Second)
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	userID := "test-" + uuid.NewString()

	got, err := s.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, Empty(userID), got)

	for i := 1; i <= 3; i++ {
		m, err := s.IncrementTurn(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, i, m.TurnCount)
		assert.False(t, m.HasHandle())
	}

	require.NoError(t, s.Save(ctx, UserMemory{
		UserID:             userID,
		Summary:            "likes go",
		ContinuationHandle: HandlePtr("resp_abc"),
		TurnCount:          3,
	}))
	got, err = s.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "likes go", got.Summary)
	assert.Equal(t, "resp_abc", got.Handle())
	assert.Equal(t, 3, got.TurnCount)

	require.NoError(t, s.Save(ctx, Empty(userID)))
	got, err = s.Load(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, got.Summary)
	assert.Nil(t, got.ContinuationHandle)
	assert.Zero(t, got.TurnCount)
}
