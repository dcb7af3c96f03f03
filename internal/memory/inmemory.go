package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process memory store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]UserMemory
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]UserMemory)}
}

func (s *InMemoryStore) Load(_ context.Context, userID string) (UserMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.records[userID]
	if !ok {
		return Empty(userID), nil
	}
	return m.Clone(), nil
}

func (s *InMemoryStore) IncrementTurn(_ context.Context, userID string) (UserMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[userID]
	if !ok {
		m = Empty(userID)
	}
	m.TurnCount++
	m.UpdatedAt = time.Now().UTC()
	s.records[userID] = m
	return m.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, m UserMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m = m.Clone()
	m.UpdatedAt = time.Now().UTC()
	s.records[m.UserID] = m
	return nil
}
