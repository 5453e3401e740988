package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

func testEntry(id string, at time.Time) *domain.WaitlistEntry {
	return &domain.WaitlistEntry{
		ID: id,
		Project: domain.Project{
			Name:    "Project " + id,
			LogoRef: "https://example.com/logo.png",
			LinkRef: "https://example.com/" + id,
		},
		WalletIdentity:   "wallet-" + id,
		Contribution:     domain.Dollars(5),
		PaymentReference: "sig-" + id,
		SubmittedAt:      at,
	}
}

func TestWaitlistStore_FIFO(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWaitlistStore(pool)

	// Same timestamp for a and b: insertion order breaks the tie
	require.NoError(t, store.Push(ctx, testEntry("a", testStart)))
	require.NoError(t, store.Push(ctx, testEntry("b", testStart)))
	require.NoError(t, store.Push(ctx, testEntry("c", testStart.Add(time.Second))))

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, want := range []string{"a", "b", "c"} {
		e, err := store.PopFront(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, e.ID)
		assert.Equal(t, domain.Dollars(5), e.Contribution)
	}

	_, err = store.PopFront(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWaitlistStore_DuplicateReference(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWaitlistStore(pool)

	require.NoError(t, store.Push(ctx, testEntry("a", testStart)))

	dup := testEntry("b", testStart)
	dup.PaymentReference = "sig-a"
	assert.ErrorIs(t, store.Push(ctx, dup), storage.ErrDuplicateKey)
}

func TestWaitlistStore_PushFrontRestoresPosition(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWaitlistStore(pool)

	require.NoError(t, store.Push(ctx, testEntry("a", testStart)))
	require.NoError(t, store.Push(ctx, testEntry("b", testStart)))

	head, err := store.PopFront(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", head.ID)

	require.NoError(t, store.PushFront(ctx, head))

	all, err := store.PeekAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
}

func TestWaitlistStore_Remove(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWaitlistStore(pool)

	require.NoError(t, store.Push(ctx, testEntry("a", testStart)))

	removed, err := store.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "sig-a", removed.PaymentReference)

	_, err = store.Remove(ctx, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWaitlistStore_ConcurrentPopNoDuplicates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWaitlistStore(pool)

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, store.Push(ctx, testEntry(fmt.Sprintf("e%02d", i), testStart.Add(time.Duration(i)*time.Millisecond))))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, err := store.PopFront(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[e.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "entry %s popped more than once", id)
	}
}
