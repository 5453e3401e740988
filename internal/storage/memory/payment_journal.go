package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// PaymentJournal is an in-memory implementation of storage.PaymentJournal.
type PaymentJournal struct {
	mu   sync.RWMutex
	data map[string]*domain.PaymentRecord // keyed by reference
}

// NewPaymentJournal creates a new in-memory payment journal.
func NewPaymentJournal() *PaymentJournal {
	return &PaymentJournal{
		data: make(map[string]*domain.PaymentRecord),
	}
}

// Record inserts a new journal entry. Returns ErrDuplicateKey if the reference exists.
func (s *PaymentJournal) Record(_ context.Context, p *domain.PaymentRecord) error {
	if p == nil || p.Reference == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.Reference]; exists {
		return storage.ErrDuplicateKey
	}

	rec := copyPaymentRecord(p)
	if rec.Status == "" {
		rec.Status = domain.PaymentPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	s.data[p.Reference] = rec
	return nil
}

// Get retrieves an entry by reference. Returns ErrNotFound if not exists.
func (s *PaymentJournal) Get(_ context.Context, reference string) (*domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[reference]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyPaymentRecord(rec), nil
}

// SetStatus updates status, last error and occupancy of an entry.
func (s *PaymentJournal) SetStatus(_ context.Context, reference string, status domain.PaymentStatus, occupancyID, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[reference]
	if !exists {
		return storage.ErrNotFound
	}

	rec.Status = status
	rec.LastError = lastErr
	if occupancyID != "" {
		rec.OccupancyID = occupancyID
	}
	if status == domain.PaymentNeedsReconciliation {
		rec.Attempts++
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ListOpen retrieves pending entries older than olderThan and all entries that need reconciliation.
func (s *PaymentJournal) ListOpen(_ context.Context, olderThan time.Time, limit int) ([]*domain.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PaymentRecord
	for _, rec := range s.data {
		switch {
		case rec.Status == domain.PaymentNeedsReconciliation:
		case rec.Status == domain.PaymentPending && rec.CreatedAt.Before(olderThan):
		default:
			continue
		}
		result = append(result, copyPaymentRecord(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountByStatus returns the number of entries per status.
func (s *PaymentJournal) CountByStatus(_ context.Context) (map[domain.PaymentStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.PaymentStatus]int)
	for _, rec := range s.data {
		counts[rec.Status]++
	}
	return counts, nil
}

func copyPaymentRecord(p *domain.PaymentRecord) *domain.PaymentRecord {
	cp := *p
	if p.Submission != nil {
		sub := *p.Submission
		cp.Submission = &sub
	}
	return &cp
}

// Verify interface compliance at compile time.
var _ storage.PaymentJournal = (*PaymentJournal)(nil)
