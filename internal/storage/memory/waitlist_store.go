package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// WaitlistStore is an in-memory implementation of storage.WaitlistStore.
type WaitlistStore struct {
	mu      sync.Mutex
	entries []*domain.WaitlistEntry // FIFO order
	seq     int64
}

// NewWaitlistStore creates a new in-memory waitlist store.
func NewWaitlistStore() *WaitlistStore {
	return &WaitlistStore{}
}

// Push appends an entry. Returns ErrDuplicateKey if a waiting entry has the same id or payment reference.
func (s *WaitlistStore) Push(_ context.Context, e *domain.WaitlistEntry) error {
	if e == nil || e.ID == "" || e.PaymentReference == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.entries {
		if existing.ID == e.ID || existing.PaymentReference == e.PaymentReference {
			return storage.ErrDuplicateKey
		}
	}

	s.seq++
	e.Seq = s.seq
	entryCopy := *e
	s.entries = append(s.entries, &entryCopy)
	s.sortLocked()
	return nil
}

// PopFront removes and returns the head entry. Returns ErrNotFound when empty.
func (s *WaitlistStore) PopFront(_ context.Context) (*domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil, storage.ErrNotFound
	}
	head := s.entries[0]
	s.entries = s.entries[1:]
	return head, nil
}

// PushFront restores an entry taken by PopFront at its original position.
func (s *WaitlistStore) PushFront(_ context.Context, e *domain.WaitlistEntry) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.entries {
		if existing.ID == e.ID || existing.PaymentReference == e.PaymentReference {
			return storage.ErrDuplicateKey
		}
	}

	entryCopy := *e
	s.entries = append(s.entries, &entryCopy)
	s.sortLocked()
	return nil
}

// PeekAll retrieves all entries in FIFO order without removing them.
func (s *WaitlistStore) PeekAll(_ context.Context) ([]*domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.WaitlistEntry, len(s.entries))
	for i, e := range s.entries {
		entryCopy := *e
		result[i] = &entryCopy
	}
	return result, nil
}

// Remove deletes an entry by id. Returns ErrNotFound if not exists.
func (s *WaitlistStore) Remove(_ context.Context, id string) (*domain.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return e, nil
		}
	}
	return nil, storage.ErrNotFound
}

// Len returns the number of waiting entries.
func (s *WaitlistStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *WaitlistStore) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Before(s.entries[j])
	})
}

// Verify interface compliance at compile time.
var _ storage.WaitlistStore = (*WaitlistStore)(nil)
