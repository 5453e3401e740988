package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/idhash"
	"github.com/martacalvinho/squares2/internal/storage"
)

// Reapply finishes the state write of a journaled payment whose first attempt
// did not complete. It never pays. Work that already landed is detected and
// only the missing pieces are written. Returns the occupancy the payment
// ended up backing, empty for a waitlisted submission.
func (o *Orchestrator) Reapply(ctx context.Context, rec *domain.PaymentRecord) (string, error) {
	recorded, err := o.contributions.GetByReference(ctx, rec.Reference)
	if err != nil {
		return "", fmt.Errorf("read contributions: %w", err)
	}

	switch rec.Purpose {
	case domain.PurposeSubmission:
		return o.reapplySubmission(ctx, rec, recorded)
	case domain.PurposeTopUp:
		return o.reapplyTopUp(ctx, rec, recorded)
	default:
		return "", &boost.PersistenceError{Op: "reapply", PaymentReference: rec.Reference, Payer: rec.Payer, Amount: rec.Amount,
			Err: fmt.Errorf("unknown payment purpose %q", rec.Purpose)}
	}
}

func (o *Orchestrator) reapplySubmission(ctx context.Context, rec *domain.PaymentRecord, recorded []*domain.Contribution) (string, error) {
	for _, c := range recorded {
		if c.Kind != domain.ContributionTopUp {
			return c.OccupancyID, nil
		}
	}
	if rec.Submission == nil {
		return "", &boost.PersistenceError{Op: "reapply", PaymentReference: rec.Reference, Payer: rec.Payer, Amount: rec.Amount,
			Err: errors.New("journal entry has no submission")}
	}
	now := o.clock.Now()

	// Claimed, audit record missing.
	occupancyID := idhash.OccupancyID(rec.Reference)
	slot, err := o.slots.FindByOccupancy(ctx, occupancyID)
	switch {
	case err == nil:
		o.audit(ctx, &domain.Contribution{
			SlotNumber:       &slot.SlotNumber,
			OccupancyID:      occupancyID,
			PayerIdentity:    rec.Payer,
			Amount:           rec.Amount,
			PaymentReference: rec.Reference,
			Kind:             domain.ContributionInitial,
			Timestamp:        now,
		})
		return occupancyID, nil
	case !errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("find occupancy: %w", err)
	}

	// Waitlisted and since promoted, audit records missing.
	entryID := idhash.EntryID(rec.Reference)
	promotedID := idhash.PromotedOccupancyID(entryID)
	slot, err = o.slots.FindByOccupancy(ctx, promotedID)
	switch {
	case err == nil:
		o.audit(ctx, &domain.Contribution{
			SlotNumber:       &slot.SlotNumber,
			OccupancyID:      promotedID,
			PayerIdentity:    rec.Payer,
			Amount:           rec.Amount,
			PaymentReference: rec.Reference,
			Kind:             domain.ContributionPromoted,
			Timestamp:        now,
		})
		return promotedID, nil
	case !errors.Is(err, storage.ErrNotFound):
		return "", fmt.Errorf("find promoted occupancy: %w", err)
	}

	// Waitlisted, audit record missing.
	entries, err := o.waitlist.PeekAll(ctx)
	if err != nil {
		return "", fmt.Errorf("read waitlist: %w", err)
	}
	for _, e := range entries {
		if e.ID == entryID {
			o.audit(ctx, &domain.Contribution{
				PayerIdentity:    rec.Payer,
				Amount:           rec.Amount,
				PaymentReference: rec.Reference,
				Kind:             domain.ContributionWaitlisted,
				Timestamp:        now,
			})
			return "", nil
		}
	}

	res, err := o.applySubmission(ctx, rec)
	if err != nil {
		return "", err
	}
	return res.OccupancyID, nil
}

func (o *Orchestrator) reapplyTopUp(ctx context.Context, rec *domain.PaymentRecord, recorded []*domain.Contribution) (string, error) {
	for _, c := range recorded {
		if c.Kind == domain.ContributionTopUp {
			return rec.OccupancyID, nil
		}
	}

	slot, err := o.slots.FindByOccupancy(ctx, rec.OccupancyID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", &boost.PersistenceError{Op: "extend", PaymentReference: rec.Reference, Payer: rec.Payer, Amount: rec.Amount, Err: boost.ErrSlotEmpty}
	}
	if err != nil {
		return "", fmt.Errorf("find occupancy: %w", err)
	}

	// The accumulated contribution equals the sum of audit records; a gap of
	// at least this payment means the extension landed and only the record is missing.
	stats, err := o.contributions.StatsByOccupancy(ctx, []string{rec.OccupancyID})
	if err != nil {
		return "", fmt.Errorf("contribution stats: %w", err)
	}
	if slot.AccumulatedContribution-stats[rec.OccupancyID].Total >= rec.Amount {
		o.audit(ctx, &domain.Contribution{
			SlotNumber:       &slot.SlotNumber,
			OccupancyID:      rec.OccupancyID,
			PayerIdentity:    rec.Payer,
			Amount:           rec.Amount,
			PaymentReference: rec.Reference,
			Kind:             domain.ContributionTopUp,
			Timestamp:        o.clock.Now(),
		})
		return rec.OccupancyID, nil
	}

	if _, err := o.applyTopUp(ctx, rec); err != nil {
		return "", err
	}
	return rec.OccupancyID, nil
}
