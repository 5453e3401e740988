package memory

import (
	"context"
	"sync"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// SlotStore is an in-memory implementation of storage.SlotStore.
// A single mutex serializes all mutations, which makes every slot operation
// mutually exclusive with every other one.
type SlotStore struct {
	mu    sync.Mutex
	slots []*domain.Slot // index = slot_number - 1
}

// NewSlotStore creates a new in-memory slot store with n empty slots.
func NewSlotStore(n int) *SlotStore {
	s := &SlotStore{}
	_ = s.Bootstrap(context.Background(), n)
	return s
}

// Bootstrap creates slots 1..n as empty rows. Existing rows are kept.
func (s *SlotStore) Bootstrap(_ context.Context, n int) error {
	if n <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.slots) < n {
		s.slots = append(s.slots, &domain.Slot{SlotNumber: len(s.slots) + 1})
	}
	return nil
}

// TryClaim assigns occupant to slotNumber only if the slot is empty.
func (s *SlotStore) TryClaim(_ context.Context, slotNumber int, occupant *domain.Occupant, amount domain.Cents, start, end time.Time) (bool, error) {
	if occupant == nil || occupant.OccupancyID == "" || end.Before(start) {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.slotLocked(slotNumber)
	if err != nil {
		return false, err
	}
	if slot.Occupant != nil {
		return false, nil
	}

	claimLocked(slot, occupant, amount, start, end)
	return true, nil
}

// Extend pushes EndTime forward by add and adds amount to the accumulated contribution.
// An occupancy that expired at now is treated as gone.
func (s *SlotStore) Extend(_ context.Context, slotNumber int, occupancyID string, amount domain.Cents, add, max time.Duration, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.slotLocked(slotNumber)
	if err != nil {
		return time.Time{}, err
	}
	if slot.Occupant == nil {
		return time.Time{}, storage.ErrSlotEmpty
	}
	if slot.Occupant.OccupancyID != occupancyID {
		return time.Time{}, storage.ErrOccupantChanged
	}
	if slot.IsExpired(now) {
		return time.Time{}, storage.ErrSlotEmpty
	}
	if slot.Booked()+add > max {
		return time.Time{}, storage.ErrCapacityExceeded
	}

	slot.EndTime = slot.EndTime.Add(add)
	slot.AccumulatedContribution += amount
	slot.Version++
	slot.UpdatedAt = now
	return slot.EndTime, nil
}

// Vacate clears the slot if it is still held by occupancyID and expired at now.
func (s *SlotStore) Vacate(_ context.Context, slotNumber int, occupancyID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.slotLocked(slotNumber)
	if err != nil {
		return false, err
	}
	if slot.Occupant == nil || slot.Occupant.OccupancyID != occupancyID || !slot.IsExpired(now) {
		return false, nil
	}

	clearLocked(slot, now)
	return true, nil
}

// Rerank reassigns slot numbers by remaining time.
func (s *SlotStore) Rerank(_ context.Context, now time.Time) ([]domain.SlotMove, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	arranged, moves := storage.Arrange(s.slots, now)
	s.slots = arranged
	return moves, nil
}

// Get retrieves a slot by number. Returns ErrNotFound if not exists.
func (s *SlotStore) Get(_ context.Context, slotNumber int) (*domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.slotLocked(slotNumber)
	if err != nil {
		return nil, err
	}
	return slot.Clone(), nil
}

// FindByOccupancy retrieves the slot currently held by occupancyID.
func (s *SlotStore) FindByOccupancy(_ context.Context, occupancyID string) (*domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range s.slots {
		if slot.Occupant != nil && slot.Occupant.OccupancyID == occupancyID {
			return slot.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

// List retrieves all slots ordered by slot number ASC.
func (s *SlotStore) List(_ context.Context) ([]*domain.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*domain.Slot, len(s.slots))
	for i, slot := range s.slots {
		result[i] = slot.Clone()
	}
	return result, nil
}

func claimLocked(slot *domain.Slot, occupant *domain.Occupant, amount domain.Cents, start, end time.Time) {
	occupantCopy := *occupant
	slot.Occupant = &occupantCopy
	slot.StartTime = start
	slot.EndTime = end
	slot.AccumulatedContribution = amount
	slot.Version++
	slot.UpdatedAt = start
}

func clearLocked(slot *domain.Slot, now time.Time) {
	*slot = domain.Slot{
		SlotNumber: slot.SlotNumber,
		Version:    slot.Version + 1,
		UpdatedAt:  now,
	}
}

func (s *SlotStore) slotLocked(slotNumber int) (*domain.Slot, error) {
	if slotNumber < 1 || slotNumber > len(s.slots) {
		return nil, storage.ErrNotFound
	}
	return s.slots[slotNumber-1], nil
}

// Verify interface compliance at compile time.
var _ storage.SlotStore = (*SlotStore)(nil)
