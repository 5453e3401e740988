package migrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/storage/postgres"
)

const postgresLedger = `
CREATE TABLE IF NOT EXISTS boost_schema_migrations (
    file       TEXT PRIMARY KEY,
    checksum   TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres applies the embedded postgres migrations. Each file runs in its own
// transaction and is recorded with its checksum; a file whose checksum
// changed is applied again, so files must stay idempotent.
func Postgres(ctx context.Context, pool *postgres.Pool) ([]Result, error) {
	files, err := load(postgresFS, "postgres")
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresLedger); err != nil {
		return nil, fmt.Errorf("create migration ledger: %w", err)
	}

	logger := log.WithField("component", "migrations")
	results := make([]Result, 0, len(files))
	for _, m := range files {
		res := Result{File: m.file, Checksum: m.checksum, Statements: len(Split(m.sql))}

		var recorded string
		err := pool.QueryRow(ctx, `SELECT checksum FROM boost_schema_migrations WHERE file = $1`, m.file).Scan(&recorded)
		switch {
		case err == nil && recorded == m.checksum:
			res.Skipped = true
			results = append(results, res)
			continue
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return results, fmt.Errorf("read migration ledger: %w", err)
		}

		if err := applyPostgres(ctx, pool, m); err != nil {
			return results, err
		}
		logger.WithFields(log.Fields{"file": m.file, "checksum": m.checksum}).Info("postgres migration applied")
		results = append(results, res)
	}
	return results, nil
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.file, err)
	}
	defer tx.Rollback(ctx)

	// Function bodies contain semicolons, so the file goes in one simple-protocol call.
	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.file, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO boost_schema_migrations (file, checksum) VALUES ($1, $2)
		ON CONFLICT (file) DO UPDATE SET checksum = EXCLUDED.checksum, applied_at = now()`,
		m.file, m.checksum); err != nil {
		return fmt.Errorf("record migration %s: %w", m.file, err)
	}
	return tx.Commit(ctx)
}
