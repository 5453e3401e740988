package boost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// claimPasses bounds how often ClaimFirstFree re-reads the slots after losing races.
const claimPasses = 2

// Engine applies Rules to the slot store.
type Engine struct {
	rules Rules
	slots storage.SlotStore
}

// NewEngine creates an Engine.
func NewEngine(rules Rules, slots storage.SlotStore) *Engine {
	return &Engine{rules: rules, slots: slots}
}

// Rules returns the rules the engine enforces.
func (e *Engine) Rules() Rules {
	return e.rules
}

// ClaimFirstFree claims the lowest-numbered empty slot for occupant, starting at start
// and lasting Duration(amount). Losing a conditional write moves on to the next empty
// slot. Returns ErrClaimConflict when every slot is occupied.
func (e *Engine) ClaimFirstFree(ctx context.Context, occupant *domain.Occupant, amount domain.Cents, start time.Time) (*domain.Slot, error) {
	end := start.Add(e.rules.Duration(amount))

	for pass := 0; pass < claimPasses; pass++ {
		slots, err := e.slots.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}

		sawEmpty := false
		for _, s := range slots {
			if !s.IsEmpty() {
				continue
			}
			sawEmpty = true

			ok, err := e.slots.TryClaim(ctx, s.SlotNumber, occupant, amount, start, end)
			if err != nil {
				return nil, fmt.Errorf("claim slot %d: %w", s.SlotNumber, err)
			}
			if ok {
				claimed := &domain.Slot{
					SlotNumber:              s.SlotNumber,
					Occupant:                occupant,
					StartTime:               start,
					EndTime:                 end,
					AccumulatedContribution: amount,
				}
				return claimed, nil
			}
		}

		if !sawEmpty {
			break
		}
	}

	return nil, ErrClaimConflict
}

// Extend adds Duration(amount) to the occupancy held in slotNumber.
// When occupancyID is empty the current occupant is extended. An occupancy
// that expired at now cannot be extended and reports ErrSlotEmpty.
func (e *Engine) Extend(ctx context.Context, slotNumber int, occupancyID string, amount domain.Cents, now time.Time) (time.Time, error) {
	if occupancyID == "" {
		slot, err := e.Slot(ctx, slotNumber)
		if err != nil {
			return time.Time{}, err
		}
		if !slot.IsActive(now) {
			return time.Time{}, ErrSlotEmpty
		}
		occupancyID = slot.Occupant.OccupancyID
	}

	end, err := e.slots.Extend(ctx, slotNumber, occupancyID, amount, e.rules.Duration(amount), e.rules.MaxDuration, now)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, ErrSlotNotFound
	}
	return end, err
}

// CheckTopUp reports whether amount still fits the occupancy in slot.
func (e *Engine) CheckTopUp(slot *domain.Slot, amount domain.Cents) error {
	if slot.IsEmpty() {
		return ErrSlotEmpty
	}
	if slot.Booked()+e.rules.Duration(amount) > e.rules.MaxDuration {
		return fmt.Errorf("%w: at most %s can be added", ErrCapacityExceeded, e.rules.MaxTopUp(slot.Booked()))
	}
	return nil
}

// MaxTopUp returns the largest top-up slotNumber can still take.
func (e *Engine) MaxTopUp(ctx context.Context, slotNumber int) (domain.Cents, error) {
	slot, err := e.Slot(ctx, slotNumber)
	if err != nil {
		return 0, err
	}
	if slot.IsEmpty() {
		return 0, ErrSlotEmpty
	}
	return e.rules.MaxTopUp(slot.Booked()), nil
}

// Slot reads one slot, mapping a missing number to ErrSlotNotFound.
func (e *Engine) Slot(ctx context.Context, slotNumber int) (*domain.Slot, error) {
	slot, err := e.slots.Get(ctx, slotNumber)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slot %d: %w", slotNumber, err)
	}
	return slot, nil
}

// ListActive returns the occupied, unexpired slots at now ordered by slot number.
func (e *Engine) ListActive(ctx context.Context, now time.Time) ([]*domain.Slot, error) {
	slots, err := e.slots.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	active := make([]*domain.Slot, 0, len(slots))
	for _, s := range slots {
		if s.IsActive(now) {
			active = append(active, s)
		}
	}
	return active, nil
}
