package quote

import (
	"context"
	"fmt"
	"sync"

	"quotefeed/pkg/platform/sentinel"
)

// InMemory is a map-backed Store for tests and dev runs without a database.
type InMemory struct {
	mu     sync.RWMutex
	nextID int64
	quotes map[int64]Quote
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{quotes: make(map[int64]Quote)}
}

func (s *InMemory) Create(ctx context.Context, q *Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	q.ID = s.nextID
	s.quotes[q.ID] = *q
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id int64) (*Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, found := s.quotes[id]
	if !found {
		return nil, fmt.Errorf("quote %d: %w", id, sentinel.ErrNotFound)
	}
	out := q
	return &out, nil
}
