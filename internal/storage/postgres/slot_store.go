package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// SlotStore implements storage.SlotStore using PostgreSQL.
// Claims and vacates are single conditional UPDATEs; extend and rerank run in
// transactions holding row locks.
type SlotStore struct {
	pool *Pool
}

// NewSlotStore creates a new SlotStore.
func NewSlotStore(pool *Pool) *SlotStore {
	return &SlotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SlotStore = (*SlotStore)(nil)

const slotColumns = `
	slot_number, occupancy_id, project_name, project_logo, project_link,
	telegram_link, chart_link, wallet_identity, payment_reference,
	start_time, end_time, accumulated_contribution, version, updated_at
`

// Bootstrap creates slots 1..n as empty rows. Existing rows are kept.
func (s *SlotStore) Bootstrap(ctx context.Context, n int) error {
	if n <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO boost_slots (slot_number)
		SELECT generate_series(1, $1)
		ON CONFLICT (slot_number) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, n); err != nil {
		return fmt.Errorf("bootstrap slots: %w", err)
	}
	return nil
}

// TryClaim assigns occupant to slotNumber only if the slot is empty.
func (s *SlotStore) TryClaim(ctx context.Context, slotNumber int, occupant *domain.Occupant, amount domain.Cents, start, end time.Time) (bool, error) {
	if occupant == nil || occupant.OccupancyID == "" || end.Before(start) {
		return false, storage.ErrInvalidInput
	}

	query := `
		UPDATE boost_slots SET
			occupancy_id = $2, project_name = $3, project_logo = $4, project_link = $5,
			telegram_link = $6, chart_link = $7, wallet_identity = $8, payment_reference = $9,
			start_time = $10, end_time = $11, accumulated_contribution = $12,
			version = version + 1, updated_at = $10
		WHERE slot_number = $1 AND occupancy_id IS NULL
	`

	tag, err := s.pool.Exec(ctx, query,
		slotNumber,
		occupant.OccupancyID,
		occupant.Project.Name,
		occupant.Project.LogoRef,
		occupant.Project.LinkRef,
		occupant.Project.TelegramRef,
		occupant.Project.ChartRef,
		occupant.WalletIdentity,
		occupant.PaymentReference,
		start,
		end,
		int64(amount),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, storage.ErrDuplicateKey
		}
		return false, fmt.Errorf("claim slot %d: %w", slotNumber, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish an occupied slot from a missing one.
	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM boost_slots WHERE slot_number = $1)`, slotNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slot %d: %w", slotNumber, err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// Extend pushes EndTime forward by add and adds amount to the accumulated contribution.
// An occupancy that expired at now is treated as gone.
func (s *SlotStore) Extend(ctx context.Context, slotNumber int, occupancyID string, amount domain.Cents, add, max time.Duration, now time.Time) (time.Time, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+slotColumns+` FROM boost_slots WHERE slot_number = $1 FOR UPDATE`, slotNumber)
	slot, err := scanSlot(row)
	if err != nil {
		if isNotFoundError(err) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("lock slot %d: %w", slotNumber, err)
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

	newEnd := slot.EndTime.Add(add)
	_, err = tx.Exec(ctx, `
		UPDATE boost_slots SET
			end_time = $2,
			accumulated_contribution = accumulated_contribution + $3,
			version = version + 1,
			updated_at = $4
		WHERE slot_number = $1
	`, slotNumber, newEnd, int64(amount), now)
	if err != nil {
		return time.Time{}, fmt.Errorf("extend slot %d: %w", slotNumber, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit extend: %w", err)
	}
	return newEnd, nil
}

// Vacate clears the slot if it is still held by occupancyID and expired at now.
// An extension committed after the caller's snapshot keeps the occupant in place.
func (s *SlotStore) Vacate(ctx context.Context, slotNumber int, occupancyID string, now time.Time) (bool, error) {
	query := `
		UPDATE boost_slots SET
			occupancy_id = NULL, project_name = NULL, project_logo = NULL, project_link = NULL,
			telegram_link = NULL, chart_link = NULL, wallet_identity = NULL, payment_reference = NULL,
			start_time = NULL, end_time = NULL, accumulated_contribution = 0,
			version = version + 1, updated_at = $3
		WHERE slot_number = $1 AND occupancy_id = $2 AND end_time <= $3
	`

	tag, err := s.pool.Exec(ctx, query, slotNumber, occupancyID, now)
	if err != nil {
		return false, fmt.Errorf("vacate slot %d: %w", slotNumber, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Rerank reassigns slot numbers by remaining time inside one transaction.
// The occupancy uniqueness constraint is deferred, so rows can swap occupants freely.
func (s *SlotStore) Rerank(ctx context.Context, now time.Time) ([]domain.SlotMove, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+slotColumns+` FROM boost_slots ORDER BY slot_number FOR UPDATE`)
	if err != nil {
		return nil, fmt.Errorf("lock slots: %w", err)
	}
	current, err := scanSlots(rows)
	if err != nil {
		return nil, err
	}

	arranged, moves := storage.Arrange(current, now)
	if len(moves) == 0 {
		return nil, tx.Commit(ctx)
	}

	for i, slot := range arranged {
		if slot.Version == current[i].Version {
			continue
		}
		if err := writeSlot(ctx, tx, slot); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rerank: %w", err)
	}
	return moves, nil
}

// Get retrieves a slot by number. Returns ErrNotFound if not exists.
func (s *SlotStore) Get(ctx context.Context, slotNumber int) (*domain.Slot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM boost_slots WHERE slot_number = $1`, slotNumber)
	slot, err := scanSlot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get slot %d: %w", slotNumber, err)
	}
	return slot, nil
}

// FindByOccupancy retrieves the slot currently held by occupancyID.
func (s *SlotStore) FindByOccupancy(ctx context.Context, occupancyID string) (*domain.Slot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM boost_slots WHERE occupancy_id = $1`, occupancyID)
	slot, err := scanSlot(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("find slot by occupancy: %w", err)
	}
	return slot, nil
}

// List retrieves all slots ordered by slot number ASC.
func (s *SlotStore) List(ctx context.Context) ([]*domain.Slot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+slotColumns+` FROM boost_slots ORDER BY slot_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return scanSlots(rows)
}

// writeSlot overwrites a row with the given slot state.
func writeSlot(ctx context.Context, tx pgx.Tx, slot *domain.Slot) error {
	var (
		occupancyID, name, logo, link, telegram, chart, wallet, reference *string
		start, end                                                        *time.Time
	)
	if o := slot.Occupant; o != nil {
		occupancyID = &o.OccupancyID
		name = &o.Project.Name
		logo = &o.Project.LogoRef
		link = &o.Project.LinkRef
		telegram = &o.Project.TelegramRef
		chart = &o.Project.ChartRef
		wallet = &o.WalletIdentity
		reference = &o.PaymentReference
		start = &slot.StartTime
		end = &slot.EndTime
	}

	_, err := tx.Exec(ctx, `
		UPDATE boost_slots SET
			occupancy_id = $2, project_name = $3, project_logo = $4, project_link = $5,
			telegram_link = $6, chart_link = $7, wallet_identity = $8, payment_reference = $9,
			start_time = $10, end_time = $11, accumulated_contribution = $12,
			version = $13, updated_at = $14
		WHERE slot_number = $1
	`,
		slot.SlotNumber,
		occupancyID, name, logo, link, telegram, chart, wallet, reference,
		start, end,
		int64(slot.AccumulatedContribution),
		slot.Version,
		slot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("write slot %d: %w", slot.SlotNumber, err)
	}
	return nil
}

// scanSlot scans a single row into a Slot.
func scanSlot(row pgx.Row) (*domain.Slot, error) {
	var (
		slot                                                              domain.Slot
		occupancyID, name, logo, link, telegram, chart, wallet, reference *string
		start, end                                                        *time.Time
		accumulated                                                       int64
	)

	err := row.Scan(
		&slot.SlotNumber,
		&occupancyID,
		&name,
		&logo,
		&link,
		&telegram,
		&chart,
		&wallet,
		&reference,
		&start,
		&end,
		&accumulated,
		&slot.Version,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	slot.AccumulatedContribution = domain.Cents(accumulated)
	if occupancyID != nil {
		slot.Occupant = &domain.Occupant{
			OccupancyID: *occupancyID,
			Project: domain.Project{
				Name:        deref(name),
				LogoRef:     deref(logo),
				LinkRef:     deref(link),
				TelegramRef: deref(telegram),
				ChartRef:    deref(chart),
			},
			WalletIdentity:   deref(wallet),
			PaymentReference: deref(reference),
		}
		if start != nil {
			slot.StartTime = *start
		}
		if end != nil {
			slot.EndTime = *end
		}
	}
	return &slot, nil
}

// scanSlots scans multiple rows into Slots.
func scanSlots(rows pgx.Rows) ([]*domain.Slot, error) {
	defer rows.Close()

	var result []*domain.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		result = append(result, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
