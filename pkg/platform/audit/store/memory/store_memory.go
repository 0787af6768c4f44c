package memory

import (
	"context"
	"sync"

	audit "kycvault/pkg/platform/audit"
)

// InMemoryStore keeps events in append order, indexed by target.
type InMemoryStore struct {
	mu       sync.RWMutex
	events   []audit.Event
	byTarget map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byTarget: make(map[string][]int)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byTarget = make(map[string][]int)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTarget[event.Target] = append(s.byTarget[event.Target], len(s.events))
	s.events = append(s.events, event.Clone())
	return nil
}

// ListByTarget returns events for target, oldest first.
func (s *InMemoryStore) ListByTarget(_ context.Context, target string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byTarget[target]
	out := make([]audit.Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.events[i].Clone())
	}
	return out, nil
}

// ListRecent returns the most recent N events, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]audit.Event, 0, limit)
	for i := len(s.events) - 1; i >= len(s.events)-limit; i-- {
		out = append(out, s.events[i].Clone())
	}
	return out, nil
}

// Len is the number of events ever appended.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
