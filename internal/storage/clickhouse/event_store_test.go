package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/squares2/internal/domain"
)

func TestEventStore_Counters(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewEventStore(conn)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []domain.Event{
		{Type: domain.EventClaimed, SlotNumber: 1, OccupancyID: "occ-1", ProjectName: "Alpha", Amount: domain.Dollars(10), EndTime: at.Add(2 * time.Hour), At: at},
		{Type: domain.EventExtended, SlotNumber: 1, OccupancyID: "occ-1", Amount: domain.Dollars(5), EndTime: at.Add(3 * time.Hour), At: at},
		{Type: domain.EventWaitlisted, EntryID: "w-1", ProjectName: "Beta", Amount: domain.Dollars(7), At: at},
		{Type: domain.EventPromoted, SlotNumber: 2, OccupancyID: "occ-2", EntryID: "w-1", Amount: domain.Dollars(7), At: at},
		{Type: domain.EventVacated, SlotNumber: 1, OccupancyID: "occ-1", At: at},
	}
	require.NoError(t, store.Append(ctx, events))
	require.NoError(t, store.Append(ctx, nil))

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.Boosts)
	assert.Equal(t, int64(1), counters.TopUps)
	assert.Equal(t, int64(1), counters.Waitlisted)
	assert.Equal(t, int64(1), counters.Promotions)
	assert.Equal(t, int64(1), counters.Evictions)
	assert.Equal(t, domain.Dollars(22), counters.TotalCents)
}
