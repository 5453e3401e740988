package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

func TestContributionStore_InsertAndStats(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewContributionStore(pool)

	records := []*domain.Contribution{
		{ID: "c1", SlotNumber: ptr(1), OccupancyID: "occ-1", PayerIdentity: "alice", Amount: domain.Dollars(10), PaymentReference: "sig-1", Kind: domain.ContributionInitial, Timestamp: testStart},
		{ID: "c2", SlotNumber: ptr(1), OccupancyID: "occ-1", PayerIdentity: "bob", Amount: domain.Dollars(5), PaymentReference: "sig-2", Kind: domain.ContributionTopUp, Timestamp: testStart.Add(time.Minute)},
		{ID: "c3", SlotNumber: ptr(1), OccupancyID: "occ-1", PayerIdentity: "alice", Amount: domain.Dollars(5), PaymentReference: "sig-3", Kind: domain.ContributionTopUp, Timestamp: testStart.Add(2 * time.Minute)},
		{ID: "c4", PayerIdentity: "carol", Amount: domain.Dollars(7), PaymentReference: "sig-4", Kind: domain.ContributionWaitlisted, Timestamp: testStart},
		{ID: "c5", SlotNumber: ptr(2), OccupancyID: "occ-2", PayerIdentity: "carol", Amount: domain.Dollars(7), PaymentReference: "sig-4", Kind: domain.ContributionPromoted, Timestamp: testStart.Add(time.Hour)},
	}
	for _, c := range records {
		require.NoError(t, store.Insert(ctx, c))
	}

	stats, err := store.StatsByOccupancy(ctx, []string{"occ-1", "occ-2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, domain.Dollars(20), stats["occ-1"].Total)
	assert.Equal(t, 2, stats["occ-1"].ContributorCount)
	assert.Equal(t, domain.Dollars(7), stats["occ-2"].Total)
	assert.Equal(t, 1, stats["occ-2"].ContributorCount)
	_, ok := stats["missing"]
	assert.False(t, ok)

	byRef, err := store.GetByReference(ctx, "sig-4")
	require.NoError(t, err)
	require.Len(t, byRef, 2)
	assert.Equal(t, domain.ContributionWaitlisted, byRef[0].Kind)
	assert.Nil(t, byRef[0].SlotNumber)
	assert.Empty(t, byRef[0].OccupancyID)
	assert.Equal(t, domain.ContributionPromoted, byRef[1].Kind)
	require.NotNil(t, byRef[1].SlotNumber)
	assert.Equal(t, 2, *byRef[1].SlotNumber)

	byOcc, err := store.GetByOccupancy(ctx, "occ-1")
	require.NoError(t, err)
	require.Len(t, byOcc, 3)
	assert.Equal(t, "c1", byOcc[0].ID)
	assert.Equal(t, "c3", byOcc[2].ID)
}

func TestContributionStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewContributionStore(pool)

	c := &domain.Contribution{ID: "c1", PayerIdentity: "alice", Amount: domain.Dollars(5), PaymentReference: "sig-1", Kind: domain.ContributionInitial, Timestamp: testStart}
	require.NoError(t, store.Insert(ctx, c))

	again := *c
	again.ID = "c2"
	assert.ErrorIs(t, store.Insert(ctx, &again), storage.ErrDuplicateKey)

	invalid := *c
	invalid.ID = "c3"
	invalid.Kind = "bogus"
	assert.ErrorIs(t, store.Insert(ctx, &invalid), storage.ErrInvalidInput)
}
