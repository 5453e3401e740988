package postgres

import (
	"context"
	"fmt"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// promotionLock is the advisory lock key held by every promotion transaction.
const promotionLock int64 = 0x626f6f73745f70 // "boost_p"

// Promoter implements storage.Promoter using PostgreSQL.
// Each promotion is one transaction: the waitlist head is locked, the lowest
// empty slot is claimed, the entry is deleted and the audit record inserted.
// A transaction-scoped advisory lock queues concurrent promoters, so two
// sweepers cannot promote the second entry ahead of the first.
type Promoter struct {
	pool *Pool
}

// NewPromoter creates a new Promoter.
func NewPromoter(pool *Pool) *Promoter {
	return &Promoter{pool: pool}
}

// Compile-time interface check.
var _ storage.Promoter = (*Promoter)(nil)

// PromoteHead moves the waitlist head into the lowest-numbered empty slot.
func (p *Promoter) PromoteHead(ctx context.Context, plan func(*domain.WaitlistEntry) storage.Promotion) (*domain.WaitlistEntry, *domain.Slot, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, promotionLock); err != nil {
		return nil, nil, fmt.Errorf("acquire promotion lock: %w", err)
	}

	head := tx.QueryRow(ctx, `
		SELECT `+waitlistColumns+` FROM boost_waitlist
		ORDER BY submitted_at ASC, seq ASC
		LIMIT 1
		FOR UPDATE
	`)
	entry, err := scanWaitlistEntry(head)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil, storage.ErrNotFound
		}
		return nil, nil, fmt.Errorf("lock waitlist head: %w", err)
	}

	pr := plan(entry)
	if pr.Occupant == nil || pr.Occupant.OccupancyID == "" || pr.End.Before(pr.Start) || pr.Audit == nil {
		return nil, nil, storage.ErrInvalidInput
	}
	occupant := pr.Occupant

	claim := tx.QueryRow(ctx, `
		UPDATE boost_slots SET
			occupancy_id = $1, project_name = $2, project_logo = $3, project_link = $4,
			telegram_link = $5, chart_link = $6, wallet_identity = $7, payment_reference = $8,
			start_time = $9, end_time = $10, accumulated_contribution = $11,
			version = version + 1, updated_at = $9
		WHERE slot_number = (
			SELECT slot_number FROM boost_slots
			WHERE occupancy_id IS NULL
			ORDER BY slot_number ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND occupancy_id IS NULL
		RETURNING `+slotColumns,
		occupant.OccupancyID,
		occupant.Project.Name,
		occupant.Project.LogoRef,
		occupant.Project.LinkRef,
		occupant.Project.TelegramRef,
		occupant.Project.ChartRef,
		occupant.WalletIdentity,
		occupant.PaymentReference,
		pr.Start,
		pr.End,
		int64(pr.Amount),
	)
	slot, err := scanSlot(claim)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil, storage.ErrNoFreeSlot
		}
		if isDuplicateKeyError(err) {
			return nil, nil, storage.ErrDuplicateKey
		}
		return nil, nil, fmt.Errorf("claim slot for entry %s: %w", entry.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM boost_waitlist WHERE id = $1`, entry.ID); err != nil {
		return nil, nil, fmt.Errorf("delete waitlist entry %s: %w", entry.ID, err)
	}

	audit := pr.Audit
	if audit.ID == "" || audit.PaymentReference == "" || !audit.Kind.IsValid() {
		return nil, nil, storage.ErrInvalidInput
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO boost_contributions (`+contributionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_reference, kind) DO NOTHING
	`,
		audit.ID,
		slot.SlotNumber,
		occupant.OccupancyID,
		audit.PayerIdentity,
		int64(audit.Amount),
		audit.PaymentReference,
		string(audit.Kind),
		audit.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, nil, storage.ErrDuplicateKey
		}
		return nil, nil, fmt.Errorf("insert promoted contribution: %w", err)
	}

	// The occupancy uniqueness constraint is deferred and checked here.
	if err := tx.Commit(ctx); err != nil {
		if isDuplicateKeyError(err) {
			return nil, nil, storage.ErrDuplicateKey
		}
		return nil, nil, fmt.Errorf("commit promotion: %w", err)
	}
	return entry, slot, nil
}
