package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// ContributionStore implements storage.ContributionStore using PostgreSQL.
type ContributionStore struct {
	pool *Pool
}

// NewContributionStore creates a new ContributionStore.
func NewContributionStore(pool *Pool) *ContributionStore {
	return &ContributionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ContributionStore = (*ContributionStore)(nil)

const contributionColumns = `
	id, slot_number, occupancy_id, payer_identity, amount, payment_reference, kind, created_at
`

// Insert adds a new record. Returns ErrDuplicateKey if (payment_reference, kind) exists.
func (s *ContributionStore) Insert(ctx context.Context, c *domain.Contribution) error {
	if c == nil || c.ID == "" || c.PaymentReference == "" || !c.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	var occupancyID *string
	if c.OccupancyID != "" {
		occupancyID = &c.OccupancyID
	}

	query := `INSERT INTO boost_contributions (` + contributionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		c.ID,
		c.SlotNumber,
		occupancyID,
		c.PayerIdentity,
		int64(c.Amount),
		c.PaymentReference,
		string(c.Kind),
		c.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

// GetByReference retrieves all records for a payment reference, ordered by timestamp ASC.
func (s *ContributionStore) GetByReference(ctx context.Context, reference string) ([]*domain.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM boost_contributions
		WHERE payment_reference = $1 ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, reference)
	if err != nil {
		return nil, fmt.Errorf("query contributions by reference: %w", err)
	}
	return scanContributions(rows)
}

// GetByOccupancy retrieves all records of an occupancy, ordered by timestamp ASC.
func (s *ContributionStore) GetByOccupancy(ctx context.Context, occupancyID string) ([]*domain.Contribution, error) {
	query := `SELECT ` + contributionColumns + ` FROM boost_contributions
		WHERE occupancy_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, occupancyID)
	if err != nil {
		return nil, fmt.Errorf("query contributions by occupancy: %w", err)
	}
	return scanContributions(rows)
}

// StatsByOccupancy returns totals and distinct contributor counts for the given occupancies.
// Waitlist-origin records are excluded: their money is counted by the promoted record.
func (s *ContributionStore) StatsByOccupancy(ctx context.Context, occupancyIDs []string) (map[string]domain.SlotStats, error) {
	result := make(map[string]domain.SlotStats, len(occupancyIDs))
	if len(occupancyIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT occupancy_id, COALESCE(SUM(amount), 0), COUNT(DISTINCT payer_identity)
		FROM boost_contributions
		WHERE occupancy_id = ANY($1) AND kind IN ('initial', 'top_up', 'promoted')
		GROUP BY occupancy_id
	`

	rows, err := s.pool.Query(ctx, query, occupancyIDs)
	if err != nil {
		return nil, fmt.Errorf("query contribution stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			stats domain.SlotStats
			total int64
		)
		if err := rows.Scan(&stats.OccupancyID, &total, &stats.ContributorCount); err != nil {
			return nil, fmt.Errorf("scan contribution stats: %w", err)
		}
		stats.Total = domain.Cents(total)
		result[stats.OccupancyID] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contribution stats: %w", err)
	}
	return result, nil
}

// scanContribution scans a single row into a Contribution.
func scanContribution(row pgx.Row) (*domain.Contribution, error) {
	var (
		c           domain.Contribution
		occupancyID *string
		amount      int64
		kind        string
	)

	err := row.Scan(
		&c.ID,
		&c.SlotNumber,
		&occupancyID,
		&c.PayerIdentity,
		&amount,
		&c.PaymentReference,
		&kind,
		&c.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	c.OccupancyID = deref(occupancyID)
	c.Amount = domain.Cents(amount)
	c.Kind = domain.ContributionKind(kind)
	return &c, nil
}

// scanContributions scans multiple rows into Contributions.
func scanContributions(rows pgx.Rows) ([]*domain.Contribution, error) {
	defer rows.Close()

	var result []*domain.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return result, nil
}
