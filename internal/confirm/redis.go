package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "zhenhai:reset:"

// RedisStore shares pending confirmations across bot replicas.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Put(ctx context.Context, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+userID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("put confirmation: %w", err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, userID string) error {
	err := s.client.GetDel(ctx, s.prefix+userID).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotPending
		}
		return fmt.Errorf("consume confirmation: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping reports whether the redis server answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
