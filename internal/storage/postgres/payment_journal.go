package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// PaymentJournal implements storage.PaymentJournal using PostgreSQL.
type PaymentJournal struct {
	pool *Pool
}

// NewPaymentJournal creates a new PaymentJournal.
func NewPaymentJournal(pool *Pool) *PaymentJournal {
	return &PaymentJournal{pool: pool}
}

// Compile-time interface check.
var _ storage.PaymentJournal = (*PaymentJournal)(nil)

const paymentColumns = `
	reference, payer, amount, lamports, purpose, submission, slot_number,
	occupancy_id, status, attempts, last_error, created_at, updated_at
`

// Record inserts a new journal entry. Returns ErrDuplicateKey if the reference exists.
func (s *PaymentJournal) Record(ctx context.Context, p *domain.PaymentRecord) error {
	if p == nil || p.Reference == "" {
		return storage.ErrInvalidInput
	}

	status := p.Status
	if status == "" {
		status = domain.PaymentPending
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var submission []byte
	if p.Submission != nil {
		data, err := json.Marshal(p.Submission)
		if err != nil {
			return fmt.Errorf("marshal submission: %w", err)
		}
		submission = data
	}

	query := `INSERT INTO boost_payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	_, err := s.pool.Exec(ctx, query,
		p.Reference,
		p.Payer,
		int64(p.Amount),
		int64(p.Lamports),
		string(p.Purpose),
		submission,
		p.SlotNumber,
		p.OccupancyID,
		string(status),
		p.Attempts,
		p.LastError,
		createdAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// Get retrieves an entry by reference. Returns ErrNotFound if not exists.
func (s *PaymentJournal) Get(ctx context.Context, reference string) (*domain.PaymentRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM boost_payments WHERE reference = $1`, reference)
	rec, err := scanPaymentRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return rec, nil
}

// SetStatus updates status, last error and occupancy of an entry.
func (s *PaymentJournal) SetStatus(ctx context.Context, reference string, status domain.PaymentStatus, occupancyID, lastErr string) error {
	query := `
		UPDATE boost_payments SET
			status = $2,
			last_error = $3,
			occupancy_id = CASE WHEN $4 = '' THEN occupancy_id ELSE $4 END,
			attempts = CASE WHEN $2 = 'needs_reconciliation' THEN attempts + 1 ELSE attempts END,
			updated_at = NOW()
		WHERE reference = $1
	`

	tag, err := s.pool.Exec(ctx, query, reference, string(status), lastErr, occupancyID)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListOpen retrieves pending entries older than olderThan and all entries that need reconciliation.
func (s *PaymentJournal) ListOpen(ctx context.Context, olderThan time.Time, limit int) ([]*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM boost_payments
		WHERE status = 'needs_reconciliation'
		   OR (status = 'pending' AND created_at < $1)
		ORDER BY created_at ASC`

	args := []any{olderThan}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open payments: %w", err)
	}
	return scanPaymentRecords(rows)
}

// CountByStatus returns the number of entries per status.
func (s *PaymentJournal) CountByStatus(ctx context.Context) (map[domain.PaymentStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM boost_payments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count payments: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.PaymentStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan payment count: %w", err)
		}
		counts[domain.PaymentStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment counts: %w", err)
	}
	return counts, nil
}

// scanPaymentRecord scans a single row into a PaymentRecord.
func scanPaymentRecord(row pgx.Row) (*domain.PaymentRecord, error) {
	var (
		rec        domain.PaymentRecord
		amount     int64
		lamports   int64
		purpose    string
		status     string
		submission []byte
	)

	err := row.Scan(
		&rec.Reference,
		&rec.Payer,
		&amount,
		&lamports,
		&purpose,
		&submission,
		&rec.SlotNumber,
		&rec.OccupancyID,
		&status,
		&rec.Attempts,
		&rec.LastError,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Amount = domain.Cents(amount)
	rec.Lamports = uint64(lamports)
	rec.Purpose = domain.PaymentPurpose(purpose)
	rec.Status = domain.PaymentStatus(status)
	if len(submission) > 0 {
		var sub domain.Submission
		if err := json.Unmarshal(submission, &sub); err != nil {
			return nil, fmt.Errorf("unmarshal submission: %w", err)
		}
		rec.Submission = &sub
	}
	return &rec, nil
}

// scanPaymentRecords scans multiple rows into PaymentRecords.
func scanPaymentRecords(rows pgx.Rows) ([]*domain.PaymentRecord, error) {
	defer rows.Close()

	var result []*domain.PaymentRecord
	for rows.Next() {
		rec, err := scanPaymentRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return result, nil
}
