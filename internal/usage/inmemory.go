package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps counters in process memory.
type InMemoryStore struct {
	mu       sync.Mutex
	counters map[string]Counter
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{counters: make(map[string]Counter)}
}

func (s *InMemoryStore) Seed(_ context.Context, features []string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range features {
		if _, ok := s.counters[f]; ok {
			continue
		}
		s.counters[f] = Counter{Feature: f, Date: day}
	}
	return nil
}

func (s *InMemoryStore) Increment(_ context.Context, feature string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.rolled(feature, day)
	c.Count++
	s.counters[feature] = c
	return c.Count, nil
}

func (s *InMemoryStore) IncrementBelow(_ context.Context, feature string, day time.Time, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.rolled(feature, day)
	if limit > 0 && c.Count >= limit {
		return c.Count, false, nil
	}
	c.Count++
	s.counters[feature] = c
	return c.Count, true, nil
}

func (s *InMemoryStore) List(_ context.Context, day time.Time) ([]Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Counter, 0, len(s.counters))
	for f := range s.counters {
		out = append(out, s.rolled(f, day))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out, nil
}

// rolled returns the counter as seen on day without storing it. Caller holds mu.
func (s *InMemoryStore) rolled(feature string, day time.Time) Counter {
	c, ok := s.counters[feature]
	if !ok || !sameDay(c.Date, day) {
		return Counter{Feature: feature, Date: day}
	}
	return c
}
