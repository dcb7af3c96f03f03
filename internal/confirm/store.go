package confirm

import (
	"context"
	"errors"
	"time"
)

// ErrNotPending means the user has no live confirmation request.
var ErrNotPending = errors.New("confirm: nothing pending")

// Store holds short-lived per-user confirmation flags.
type Store interface {
	// Put marks userID as pending for ttl, replacing any earlier request.
	Put(ctx context.Context, userID string, ttl time.Duration) error
	// Consume atomically removes the flag. It returns ErrNotPending when
	// nothing was pending or the request had expired.
	Consume(ctx context.Context, userID string) error
}
