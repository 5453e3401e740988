package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testOccupant(id string) *domain.Occupant {
	return &domain.Occupant{
		OccupancyID: id,
		Project: domain.Project{
			Name:    "Project " + id,
			LogoRef: "https://example.com/" + id + ".png",
			LinkRef: "https://example.com/" + id,
		},
		WalletIdentity:   "wallet-" + id,
		PaymentReference: "sig-" + id,
	}
}

func newSlotStore(t *testing.T, ctx context.Context, pool *Pool, n int) *SlotStore {
	t.Helper()
	store := NewSlotStore(pool)
	require.NoError(t, store.Bootstrap(ctx, n))
	return store
}

func TestSlotStore_BootstrapIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newSlotStore(t, ctx, pool, 5)
	require.NoError(t, store.Bootstrap(ctx, 5))

	slots, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 5)
	for i, slot := range slots {
		assert.Equal(t, i+1, slot.SlotNumber)
		assert.True(t, slot.IsEmpty())
	}

	assert.ErrorIs(t, store.Bootstrap(ctx, 0), storage.ErrInvalidInput)
}

func TestSlotStore_TryClaim(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newSlotStore(t, ctx, pool, 2)

	ok, err := store.TryClaim(ctx, 1, testOccupant("a"), domain.Dollars(10), testStart, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	// Occupied slot is refused without error
	ok, err = store.TryClaim(ctx, 1, testOccupant("b"), domain.Dollars(10), testStart, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.TryClaim(ctx, 9, testOccupant("c"), domain.Dollars(10), testStart, testStart.Add(time.Hour))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	slot, err := store.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, slot.Occupant)
	assert.Equal(t, "a", slot.Occupant.OccupancyID)
	assert.Equal(t, "Project a", slot.Occupant.Project.Name)
	assert.Equal(t, "sig-a", slot.Occupant.PaymentReference)
	assert.True(t, slot.StartTime.Equal(testStart))
	assert.True(t, slot.EndTime.Equal(testStart.Add(2*time.Hour)))
	assert.Equal(t, domain.Dollars(10), slot.AccumulatedContribution)
	assert.Equal(t, int64(1), slot.Version)
}

func TestSlotStore_ConcurrentClaimSingleWinner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newSlotStore(t, ctx, pool, 1)

	const n = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			ok, err := store.TryClaim(ctx, 1, testOccupant(id), domain.Dollars(5), testStart, testStart.Add(time.Hour))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestSlotStore_Extend(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newSlotStore(t, ctx, pool, 2)

	_, err := store.TryClaim(ctx, 1, testOccupant("a"), domain.Dollars(10), testStart, testStart.Add(2*time.Hour))
	require.NoError(t, err)

	end, err := store.Extend(ctx, 1, "a", domain.Dollars(5), time.Hour, 48*time.Hour, testStart)
	require.NoError(t, err)
	assert.True(t, end.Equal(testStart.Add(3*time.Hour)))

	_, err = store.Extend(ctx, 1, "a", domain.Dollars(250), 50*time.Hour, 48*time.Hour, testStart)
	assert.ErrorIs(t, err, storage.ErrCapacityExceeded)

	_, err = store.Extend(ctx, 1, "other", domain.Dollars(5), time.Hour, 48*time.Hour, testStart)
	assert.ErrorIs(t, err, storage.ErrOccupantChanged)

	_, err = store.Extend(ctx, 2, "a", domain.Dollars(5), time.Hour, 48*time.Hour, testStart)
	assert.ErrorIs(t, err, storage.ErrSlotEmpty)

	_, err = store.Extend(ctx, 7, "a", domain.Dollars(5), time.Hour, 48*time.Hour, testStart)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Expired at the caller's time: treated as gone.
	_, err = store.Extend(ctx, 1, "a", domain.Dollars(5), time.Hour, 48*time.Hour, testStart.Add(3*time.Hour))
	assert.ErrorIs(t, err, storage.ErrSlotEmpty)

	slot, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.Dollars(15), slot.AccumulatedContribution)
	assert.Equal(t, int64(2), slot.Version)
	assert.True(t, slot.UpdatedAt.Equal(testStart))
}

func TestSlotStore_VacateIsConditional(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newSlotStore(t, ctx, pool, 1)

	_, err := store.TryClaim(ctx, 1, testOccupant("a"), domain.Dollars(5), testStart, testStart.Add(time.Hour))
	require.NoError(t, err)

	expired := testStart.Add(time.Hour)

	ok, err := store.Vacate(ctx, 1, "someone-else", expired)
	require.NoError(t, err)
	assert.False(t, ok)

	// Still running at the caller's time.
	ok, err = store.Vacate(ctx, 1, "a", testStart.Add(59*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Vacate(ctx, 1, "a", expired)
	require.NoError(t, err)
	assert.True(t, ok)

	slot, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, slot.IsEmpty())
	assert.Equal(t, domain.Cents(0), slot.AccumulatedContribution)
	assert.Equal(t, int64(2), slot.Version)

	// A fresh claim after vacate is allowed
	ok, err = store.TryClaim(ctx, 1, testOccupant("b"), domain.Dollars(5), testStart, testStart.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlotStore_Rerank(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := newSlotStore(t, ctx, pool, 4)

	_, err := store.TryClaim(ctx, 1, testOccupant("short"), domain.Dollars(5), testStart, testStart.Add(time.Hour))
	require.NoError(t, err)
	_, err = store.TryClaim(ctx, 3, testOccupant("long"), domain.Dollars(15), testStart, testStart.Add(3*time.Hour))
	require.NoError(t, err)

	moves, err := store.Rerank(ctx, testStart)
	require.NoError(t, err)
	assert.Len(t, moves, 2)

	slots, err := store.List(ctx)
	require.NoError(t, err)
	require.NotNil(t, slots[0].Occupant)
	require.NotNil(t, slots[1].Occupant)
	assert.Equal(t, "long", slots[0].Occupant.OccupancyID)
	assert.Equal(t, "short", slots[1].Occupant.OccupancyID)
	assert.True(t, slots[2].IsEmpty())
	assert.True(t, slots[3].IsEmpty())

	found, err := store.FindByOccupancy(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, 2, found.SlotNumber)

	// Already ordered: nothing moves
	moves, err = store.Rerank(ctx, testStart)
	require.NoError(t, err)
	assert.Empty(t, moves)
}
