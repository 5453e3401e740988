// Package app wires the boost components from configuration.
package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/config"
	"github.com/martacalvinho/squares2/internal/storage"
	chstore "github.com/martacalvinho/squares2/internal/storage/clickhouse"
	"github.com/martacalvinho/squares2/internal/storage/memory"
	"github.com/martacalvinho/squares2/internal/storage/migrations"
	pgstore "github.com/martacalvinho/squares2/internal/storage/postgres"
)

// Stores holds the storage implementations chosen by configuration.
type Stores struct {
	Slots         storage.SlotStore
	Waitlist      storage.WaitlistStore
	Contributions storage.ContributionStore
	Journal       storage.PaymentJournal
	Events        storage.EventStore
	Promoter      storage.Promoter

	Pool *pgstore.Pool // nil with memory storage

	closers []func()
}

// OpenStores connects to postgres (and ClickHouse when configured), applies
// migrations and bootstraps the slot rows. With UseMemory everything lives in
// process memory.
func OpenStores(ctx context.Context, s config.Settings) (*Stores, error) {
	slots := s.Boost.Slots
	if s.UseMemory {
		log.WithField("component", "app").Warn("using in-memory storage, state is lost on exit")
		slotStore := memory.NewSlotStore(slots)
		waitlist := memory.NewWaitlistStore()
		contributions := memory.NewContributionStore()
		return &Stores{
			Slots:         slotStore,
			Waitlist:      waitlist,
			Contributions: contributions,
			Journal:       memory.NewPaymentJournal(),
			Events:        memory.NewEventStore(),
			Promoter:      memory.NewPromoter(waitlist, slotStore, contributions),
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, s.PostgresDSN)
	if err != nil {
		return nil, err
	}
	st := &Stores{
		Slots:         pgstore.NewSlotStore(pool),
		Waitlist:      pgstore.NewWaitlistStore(pool),
		Contributions: pgstore.NewContributionStore(pool),
		Journal:       pgstore.NewPaymentJournal(pool),
		Promoter:      pgstore.NewPromoter(pool),
		Pool:          pool,
		closers:       []func(){pool.Close},
	}

	if _, err := migrations.Postgres(ctx, pool); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	if err := st.Slots.Bootstrap(ctx, slots); err != nil {
		st.Close()
		return nil, fmt.Errorf("bootstrap slots: %w", err)
	}

	if s.ClickHouseDSN != "" {
		conn, _, err := migrations.ClickHouse(ctx, s.ClickHouseDSN)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate clickhouse: %w", err)
		}
		st.Events = chstore.NewEventStore(conn)
		st.closers = append(st.closers, func() { _ = conn.Close() })
	} else {
		st.Events = memory.NewEventStore()
	}

	return st, nil
}

// Health pings the database when there is one.
func (st *Stores) Health(ctx context.Context) error {
	if st.Pool == nil {
		return nil
	}
	return st.Pool.Ping(ctx)
}

// Close releases connections in reverse order of opening.
func (st *Stores) Close() {
	for i := len(st.closers) - 1; i >= 0; i-- {
		st.closers[i]()
	}
	st.closers = nil
}
