package memory

import (
	"context"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// Promoter is an in-memory implementation of storage.Promoter over the memory
// waitlist, slot and contribution stores. It holds all three locks while it
// promotes, always in that order.
type Promoter struct {
	waitlist      *WaitlistStore
	slots         *SlotStore
	contributions *ContributionStore
}

// NewPromoter creates a Promoter over the given stores.
func NewPromoter(waitlist *WaitlistStore, slots *SlotStore, contributions *ContributionStore) *Promoter {
	return &Promoter{waitlist: waitlist, slots: slots, contributions: contributions}
}

// PromoteHead moves the waitlist head into the lowest-numbered empty slot.
// Every check runs before the first mutation, so a rejected promotion leaves
// the stores untouched.
func (p *Promoter) PromoteHead(_ context.Context, plan func(*domain.WaitlistEntry) storage.Promotion) (*domain.WaitlistEntry, *domain.Slot, error) {
	p.waitlist.mu.Lock()
	defer p.waitlist.mu.Unlock()

	if len(p.waitlist.entries) == 0 {
		return nil, nil, storage.ErrNotFound
	}

	p.slots.mu.Lock()
	defer p.slots.mu.Unlock()

	var free *domain.Slot
	for _, slot := range p.slots.slots {
		if slot.Occupant == nil {
			free = slot
			break
		}
	}
	if free == nil {
		return nil, nil, storage.ErrNoFreeSlot
	}

	entry := *p.waitlist.entries[0]
	pr := plan(&entry)
	if pr.Occupant == nil || pr.Occupant.OccupancyID == "" || pr.End.Before(pr.Start) || pr.Audit == nil {
		return nil, nil, storage.ErrInvalidInput
	}
	for _, slot := range p.slots.slots {
		if slot.Occupant != nil && slot.Occupant.OccupancyID == pr.Occupant.OccupancyID {
			return nil, nil, storage.ErrDuplicateKey
		}
	}

	audit := copyContribution(pr.Audit)
	slotNumber := free.SlotNumber
	audit.SlotNumber = &slotNumber
	audit.OccupancyID = pr.Occupant.OccupancyID
	if audit.ID == "" || audit.PaymentReference == "" || !audit.Kind.IsValid() {
		return nil, nil, storage.ErrInvalidInput
	}

	p.contributions.mu.Lock()
	defer p.contributions.mu.Unlock()

	claimLocked(free, pr.Occupant, pr.Amount, pr.Start, pr.End)
	p.waitlist.entries = p.waitlist.entries[1:]

	key := contributionKey{reference: audit.PaymentReference, kind: audit.Kind}
	if _, exists := p.contributions.keys[key]; !exists {
		p.contributions.data = append(p.contributions.data, audit)
		p.contributions.keys[key] = struct{}{}
	}

	return &entry, free.Clone(), nil
}

// Verify interface compliance at compile time.
var _ storage.Promoter = (*Promoter)(nil)
