package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// WaitlistStore implements storage.WaitlistStore using PostgreSQL.
type WaitlistStore struct {
	pool *Pool
}

// NewWaitlistStore creates a new WaitlistStore.
func NewWaitlistStore(pool *Pool) *WaitlistStore {
	return &WaitlistStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WaitlistStore = (*WaitlistStore)(nil)

const waitlistColumns = `
	id, seq, project_name, project_logo, project_link, telegram_link, chart_link,
	wallet_identity, contribution, payment_reference, submitted_at
`

// Push appends an entry and assigns Seq from the table sequence.
func (s *WaitlistStore) Push(ctx context.Context, e *domain.WaitlistEntry) error {
	if e == nil || e.ID == "" || e.PaymentReference == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO boost_waitlist (
			id, project_name, project_logo, project_link, telegram_link, chart_link,
			wallet_identity, contribution, payment_reference, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq
	`

	err := s.pool.QueryRow(ctx, query,
		e.ID,
		e.Project.Name,
		e.Project.LogoRef,
		e.Project.LinkRef,
		e.Project.TelegramRef,
		e.Project.ChartRef,
		e.WalletIdentity,
		int64(e.Contribution),
		e.PaymentReference,
		e.SubmittedAt,
	).Scan(&e.Seq)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("push waitlist entry: %w", err)
	}
	return nil
}

// PopFront removes and returns the head entry. SKIP LOCKED keeps concurrent
// callers from receiving the same entry.
func (s *WaitlistStore) PopFront(ctx context.Context) (*domain.WaitlistEntry, error) {
	query := `
		DELETE FROM boost_waitlist
		WHERE id = (
			SELECT id FROM boost_waitlist
			ORDER BY submitted_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + waitlistColumns

	entry, err := scanWaitlistEntry(s.pool.QueryRow(ctx, query))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("pop waitlist head: %w", err)
	}
	return entry, nil
}

// PushFront restores an entry taken by PopFront. The original seq is kept,
// which puts the entry back at its position.
func (s *WaitlistStore) PushFront(ctx context.Context, e *domain.WaitlistEntry) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO boost_waitlist (` + waitlistColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		e.ID,
		e.Seq,
		e.Project.Name,
		e.Project.LogoRef,
		e.Project.LinkRef,
		e.Project.TelegramRef,
		e.Project.ChartRef,
		e.WalletIdentity,
		int64(e.Contribution),
		e.PaymentReference,
		e.SubmittedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("restore waitlist entry: %w", err)
	}
	return nil
}

// PeekAll retrieves all entries in FIFO order.
func (s *WaitlistStore) PeekAll(ctx context.Context) ([]*domain.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM boost_waitlist ORDER BY submitted_at ASC, seq ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query waitlist: %w", err)
	}
	return scanWaitlistEntries(rows)
}

// Remove deletes an entry by id. Returns ErrNotFound if not exists.
func (s *WaitlistStore) Remove(ctx context.Context, id string) (*domain.WaitlistEntry, error) {
	query := `DELETE FROM boost_waitlist WHERE id = $1 RETURNING ` + waitlistColumns

	entry, err := scanWaitlistEntry(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("remove waitlist entry: %w", err)
	}
	return entry, nil
}

// Len returns the number of waiting entries.
func (s *WaitlistStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM boost_waitlist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count waitlist: %w", err)
	}
	return n, nil
}

// scanWaitlistEntry scans a single row into a WaitlistEntry.
func scanWaitlistEntry(row pgx.Row) (*domain.WaitlistEntry, error) {
	var (
		e            domain.WaitlistEntry
		contribution int64
	)

	err := row.Scan(
		&e.ID,
		&e.Seq,
		&e.Project.Name,
		&e.Project.LogoRef,
		&e.Project.LinkRef,
		&e.Project.TelegramRef,
		&e.Project.ChartRef,
		&e.WalletIdentity,
		&contribution,
		&e.PaymentReference,
		&e.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Contribution = domain.Cents(contribution)
	return &e, nil
}

// scanWaitlistEntries scans multiple rows into WaitlistEntries.
func scanWaitlistEntries(rows pgx.Rows) ([]*domain.WaitlistEntry, error) {
	defer rows.Close()

	var result []*domain.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate waitlist: %w", err)
	}
	return result, nil
}
