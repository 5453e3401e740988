package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// ContributionStore is an in-memory implementation of storage.ContributionStore.
type ContributionStore struct {
	mu   sync.RWMutex
	data []*domain.Contribution
	keys map[contributionKey]struct{}
}

type contributionKey struct {
	reference string
	kind      domain.ContributionKind
}

// NewContributionStore creates a new in-memory contribution store.
func NewContributionStore() *ContributionStore {
	return &ContributionStore{
		keys: make(map[contributionKey]struct{}),
	}
}

// Insert adds a new record. Returns ErrDuplicateKey if (payment_reference, kind) exists.
func (s *ContributionStore) Insert(_ context.Context, c *domain.Contribution) error {
	if c == nil || c.ID == "" || c.PaymentReference == "" || !c.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := contributionKey{reference: c.PaymentReference, kind: c.Kind}
	if _, exists := s.keys[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.data = append(s.data, copyContribution(c))
	s.keys[key] = struct{}{}
	return nil
}

// GetByReference retrieves all records for a payment reference, ordered by timestamp ASC.
func (s *ContributionStore) GetByReference(_ context.Context, reference string) ([]*domain.Contribution, error) {
	return s.filter(func(c *domain.Contribution) bool {
		return c.PaymentReference == reference
	}), nil
}

// GetByOccupancy retrieves all records of an occupancy, ordered by timestamp ASC.
func (s *ContributionStore) GetByOccupancy(_ context.Context, occupancyID string) ([]*domain.Contribution, error) {
	return s.filter(func(c *domain.Contribution) bool {
		return c.OccupancyID != "" && c.OccupancyID == occupancyID
	}), nil
}

// StatsByOccupancy returns totals and distinct contributor counts for the given occupancies.
func (s *ContributionStore) StatsByOccupancy(_ context.Context, occupancyIDs []string) (map[string]domain.SlotStats, error) {
	wanted := make(map[string]map[string]struct{}, len(occupancyIDs))
	for _, id := range occupancyIDs {
		wanted[id] = make(map[string]struct{})
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.SlotStats, len(occupancyIDs))
	for _, c := range s.data {
		payers, ok := wanted[c.OccupancyID]
		if !ok || !c.Kind.CountsTowardSlot() {
			continue
		}
		stats := result[c.OccupancyID]
		stats.OccupancyID = c.OccupancyID
		stats.Total += c.Amount
		payers[c.PayerIdentity] = struct{}{}
		stats.ContributorCount = len(payers)
		result[c.OccupancyID] = stats
	}
	return result, nil
}

func (s *ContributionStore) filter(keep func(*domain.Contribution) bool) []*domain.Contribution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Contribution
	for _, c := range s.data {
		if keep(c) {
			result = append(result, copyContribution(c))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

func copyContribution(c *domain.Contribution) *domain.Contribution {
	cp := *c
	if c.SlotNumber != nil {
		n := *c.SlotNumber
		cp.SlotNumber = &n
	}
	return &cp
}

// Verify interface compliance at compile time.
var _ storage.ContributionStore = (*ContributionStore)(nil)
