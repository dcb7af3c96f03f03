package confirm

import (
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

// MemoryStore keeps confirmations in process memory; they are lost on restart.
type MemoryStore struct {
	mu         sync.Mutex
	pending    map[string]time.Time
	maxEntries int
	now        func() time.Time
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{
		pending:    make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if _, ok := s.pending[userID]; !ok && len(s.pending) >= s.maxEntries {
		s.purgeLocked(now)
		if len(s.pending) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}
	s.pending[userID] = now.Add(ttl)
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.pending[userID]
	if !ok {
		return ErrNotPending
	}
	delete(s.pending, userID)
	if !s.now().Before(expires) {
		return ErrNotPending
	}
	return nil
}

// Len reports how many requests are held, expired ones included until the
// janitor runs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// StartJanitor purges expired requests every interval until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				s.purgeLocked(s.now())
				s.mu.Unlock()
			}
		}
	}()
}

func (s *MemoryStore) purgeLocked(now time.Time) {
	for id, expires := range s.pending {
		if !now.Before(expires) {
			delete(s.pending, id)
		}
	}
}

func (s *MemoryStore) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, expires := range s.pending {
		if oldestID == "" || expires.Before(oldest) {
			oldestID, oldest = id, expires
		}
	}
	if oldestID != "" {
		delete(s.pending, oldestID)
	}
}
