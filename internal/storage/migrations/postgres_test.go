package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/martacalvinho/squares2/internal/storage/postgres"
)

func TestPostgres_AppliesOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	first, err := Postgres(ctx, pool)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	for _, r := range first {
		assert.False(t, r.Skipped, r.File)
	}

	second, err := Postgres(ctx, pool)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for _, r := range second {
		assert.True(t, r.Skipped, r.File)
	}

	var tables int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_name IN ('boost_slots', 'boost_waitlist', 'boost_contributions', 'boost_payments')`).Scan(&tables))
	assert.Equal(t, 4, tables)
}
