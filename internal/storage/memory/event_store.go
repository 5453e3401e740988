package memory

import (
	"context"
	"sync"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Append adds events to the log.
func (s *EventStore) Append(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

// Counters returns lifetime totals derived from the log.
func (s *EventStore) Counters(_ context.Context) (*domain.Counters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.Counters
	for _, e := range s.events {
		c.Add(e)
	}
	return &c, nil
}

// Events returns a copy of the log in append order.
func (s *EventStore) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Event, len(s.events))
	copy(result, s.events)
	return result
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
