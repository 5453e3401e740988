package storage

import (
	"context"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
)

// SlotStore provides access to the fixed boost_slots array.
// Every mutation is a conditional write: implementations must never let two
// callers hold the same slot number, and must never let a vacate erase a newer claim.
type SlotStore interface {
	// Bootstrap creates slots 1..n as empty rows. Existing rows are kept.
	Bootstrap(ctx context.Context, n int) error

	// TryClaim assigns occupant to slotNumber only if the slot is empty.
	// Returns false (and no error) when the slot is already occupied.
	// Returns ErrNotFound if slotNumber does not exist.
	TryClaim(ctx context.Context, slotNumber int, occupant *domain.Occupant, amount domain.Cents, start, end time.Time) (bool, error)

	// Extend pushes EndTime forward by add and adds amount to the accumulated contribution.
	// Returns ErrCapacityExceeded if (EndTime-StartTime)+add > max, ErrSlotEmpty if the slot
	// has no occupant or its occupant expired at now, and ErrOccupantChanged if occupancyID
	// no longer holds the slot.
	Extend(ctx context.Context, slotNumber int, occupancyID string, amount domain.Cents, add, max time.Duration, now time.Time) (time.Time, error)

	// Vacate clears the slot if it is still held by occupancyID and that occupancy
	// has expired at now. Returns false when the slot is empty, held by someone
	// else or was extended past now.
	Vacate(ctx context.Context, slotNumber int, occupancyID string, now time.Time) (bool, error)

	// Rerank atomically reassigns slot numbers so occupants are ordered by
	// remaining time at now (descending, earlier StartTime first on ties) and
	// occupy numbers 1..k. Returns the moves made.
	Rerank(ctx context.Context, now time.Time) ([]domain.SlotMove, error)

	// Get retrieves a slot by number. Returns ErrNotFound if not exists.
	Get(ctx context.Context, slotNumber int) (*domain.Slot, error)

	// FindByOccupancy retrieves the slot currently held by occupancyID.
	// Returns ErrNotFound if no slot holds it.
	FindByOccupancy(ctx context.Context, occupancyID string) (*domain.Slot, error)

	// List retrieves all slots ordered by slot number ASC.
	List(ctx context.Context) ([]*domain.Slot, error)
}

// WaitlistStore provides access to the boost_waitlist FIFO.
type WaitlistStore interface {
	// Push appends an entry. Assigns Seq. Returns ErrDuplicateKey if a waiting
	// entry has the same id or payment reference.
	Push(ctx context.Context, e *domain.WaitlistEntry) error

	// PopFront removes and returns the head entry. Returns ErrNotFound when empty.
	// Concurrent callers never receive the same entry.
	PopFront(ctx context.Context) (*domain.WaitlistEntry, error)

	// PushFront restores an entry taken by PopFront at its original position.
	PushFront(ctx context.Context, e *domain.WaitlistEntry) error

	// PeekAll retrieves all entries in FIFO order without removing them.
	PeekAll(ctx context.Context) ([]*domain.WaitlistEntry, error)

	// Remove deletes an entry by id (explicit withdrawal). Returns ErrNotFound if not exists.
	Remove(ctx context.Context, id string) (*domain.WaitlistEntry, error)

	// Len returns the number of waiting entries.
	Len(ctx context.Context) (int, error)
}

// Promotion is the claim made for a waitlist entry moving into a slot.
type Promotion struct {
	Occupant *domain.Occupant
	Amount   domain.Cents
	Start    time.Time
	End      time.Time

	// Audit is the promoted ledger record. The store fills in SlotNumber and OccupancyID.
	Audit *domain.Contribution
}

// Promoter moves waitlisted entries into free slots.
type Promoter interface {
	// PromoteHead takes the waitlist head, claims the lowest-numbered empty slot
	// for it and appends its audit record as one unit: all three happen or none does.
	// plan builds the claim from the head entry. Promotions are serialized across
	// callers, so an entry is never overtaken by the entries behind it.
	// Returns ErrNotFound when the waitlist is empty and ErrNoFreeSlot when every
	// slot is occupied; the head stays in place in both cases.
	PromoteHead(ctx context.Context, plan func(*domain.WaitlistEntry) Promotion) (*domain.WaitlistEntry, *domain.Slot, error)
}

// ContributionStore provides access to the append-only boost_contributions ledger.
type ContributionStore interface {
	// Insert adds a new record. Returns ErrDuplicateKey if (payment_reference, kind) exists.
	Insert(ctx context.Context, c *domain.Contribution) error

	// GetByReference retrieves all records for a payment reference, ordered by timestamp ASC.
	GetByReference(ctx context.Context, reference string) ([]*domain.Contribution, error)

	// GetByOccupancy retrieves all records of an occupancy, ordered by timestamp ASC.
	GetByOccupancy(ctx context.Context, occupancyID string) ([]*domain.Contribution, error)

	// StatsByOccupancy returns totals and distinct contributor counts for the given occupancies.
	StatsByOccupancy(ctx context.Context, occupancyIDs []string) (map[string]domain.SlotStats, error)
}

// PaymentJournal provides access to boost_payments, the durable record of every
// confirmed payment and whether its state write has been applied.
type PaymentJournal interface {
	// Record inserts a new journal entry. Returns ErrDuplicateKey if the reference exists.
	Record(ctx context.Context, p *domain.PaymentRecord) error

	// Get retrieves an entry by reference. Returns ErrNotFound if not exists.
	Get(ctx context.Context, reference string) (*domain.PaymentRecord, error)

	// SetStatus updates status, last error and occupancy of an entry and bumps Attempts
	// when status is PaymentNeedsReconciliation. Returns ErrNotFound if not exists.
	SetStatus(ctx context.Context, reference string, status domain.PaymentStatus, occupancyID, lastErr string) error

	// ListOpen retrieves pending entries older than olderThan and all entries that
	// need reconciliation, ordered by created_at ASC.
	ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]*domain.PaymentRecord, error)

	// CountByStatus returns the number of entries per status.
	CountByStatus(ctx context.Context) (map[domain.PaymentStatus]int, error)
}

// EventStore keeps the boost event log used for simple counters.
type EventStore interface {
	// Append adds events to the log.
	Append(ctx context.Context, events []domain.Event) error

	// Counters returns lifetime totals derived from the log.
	Counters(ctx context.Context) (*domain.Counters, error)
}
