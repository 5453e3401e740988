// Package sweeper evicts expired boost occupants, reorders the remaining ones
// and promotes waitlisted entries into the freed slots.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/feed"
	"github.com/martacalvinho/squares2/internal/idhash"
	"github.com/martacalvinho/squares2/internal/lifecycle"
	"github.com/martacalvinho/squares2/internal/observability"
	"github.com/martacalvinho/squares2/internal/storage"
)

// DefaultInterval is the eviction sweep interval.
const DefaultInterval = 5 * time.Second

// Options configures a Sweeper.
type Options struct {
	Engine   *boost.Engine
	Slots    storage.SlotStore
	Waitlist storage.WaitlistStore
	Promoter storage.Promoter
	Emitter  feed.Emitter     // defaults to feed.Nop
	Interval time.Duration    // defaults to DefaultInterval
	Clock    clock.WithTicker // defaults to the real clock
}

// Result summarizes one tick.
type Result struct {
	Evicted  []domain.Event // vacated events
	Moves    []domain.SlotMove
	Promoted []domain.Event // promoted events
	Failures int            // slot steps that failed and were skipped
}

// Sweeper runs the eviction, rerank and promotion tick.
// Ticks are serialized within a process. Across processes, vacates only clear
// occupants that are still expired and the Promoter serializes promotions, so
// concurrent ticks neither double-promote nor reorder the waitlist.
type Sweeper struct {
	engine   *boost.Engine
	slots    storage.SlotStore
	waitlist storage.WaitlistStore
	promoter storage.Promoter
	emitter  feed.Emitter
	clock    clock.WithTicker
	loop     *lifecycle.Loop
	logger   *log.Entry

	mu sync.Mutex
}

// New creates a Sweeper.
func New(opts Options) *Sweeper {
	if opts.Emitter == nil {
		opts.Emitter = feed.Nop{}
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	s := &Sweeper{
		engine:   opts.Engine,
		slots:    opts.Slots,
		waitlist: opts.Waitlist,
		promoter: opts.Promoter,
		emitter:  opts.Emitter,
		clock:    opts.Clock,
		logger:   log.WithField("component", "sweeper"),
	}
	s.loop = lifecycle.NewLoop("sweeper", opts.Interval, opts.Clock, func(ctx context.Context) {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Error("sweep failed")
		}
	})
	return s
}

// Start runs ticks on the configured interval until Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	return s.loop.Start(ctx)
}

// Stop stops the loop and waits for a running tick.
func (s *Sweeper) Stop(ctx context.Context) error {
	return s.loop.Stop(ctx)
}

// Kick requests a tick without waiting for the interval.
func (s *Sweeper) Kick() {
	s.loop.Kick()
}

// Tick performs one sweep: vacate expired occupants, rerank the survivors and
// promote waitlisted entries into free slots. A failure on one slot is logged
// and the tick moves on; only a failed snapshot aborts it.
func (s *Sweeper) Tick(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	now := s.clock.Now()
	res := &Result{}

	snapshot, err := s.slots.List(ctx)
	if err != nil {
		observability.RecordSweep("error", time.Since(started).Seconds(), 0, 0)
		return nil, fmt.Errorf("snapshot slots: %w", err)
	}

	s.evict(ctx, snapshot, now, res)

	moves, err := s.slots.Rerank(ctx, now)
	if err != nil {
		res.Failures++
		s.logger.WithError(err).Error("rerank failed")
	} else if len(moves) > 0 {
		res.Moves = moves
		reranked := make([]domain.Event, 0, len(moves))
		for _, m := range moves {
			reranked = append(reranked, domain.Event{
				Type:        domain.EventReranked,
				SlotNumber:  m.To,
				OccupancyID: m.OccupancyID,
				At:          now,
			})
		}
		s.emitter.Emit(ctx, reranked...)
	}

	if err := s.promote(ctx, now, res); err != nil {
		res.Failures++
		s.logger.WithError(err).Error("promotion stopped")
	}

	status := "ok"
	if res.Failures > 0 {
		status = "partial"
	}
	observability.RecordSweep(status, time.Since(started).Seconds(), len(res.Evicted), len(res.Promoted))
	if res.Failures == 0 {
		observability.MarkSweepSuccess(now.Unix())
	}
	s.updateGauges(ctx, now)

	if len(res.Evicted) > 0 || len(res.Promoted) > 0 {
		s.logger.WithFields(log.Fields{
			"evicted":  len(res.Evicted),
			"moved":    len(res.Moves),
			"promoted": len(res.Promoted),
		}).Info("sweep applied")
	}
	return res, nil
}

func (s *Sweeper) evict(ctx context.Context, snapshot []*domain.Slot, now time.Time, res *Result) {
	for _, slot := range snapshot {
		if !slot.IsExpired(now) {
			continue
		}

		occ := slot.Occupant
		ok, err := s.slots.Vacate(ctx, slot.SlotNumber, occ.OccupancyID, now)
		if err != nil {
			res.Failures++
			s.logger.WithError(err).WithFields(log.Fields{
				"slot":         slot.SlotNumber,
				"occupancy_id": occ.OccupancyID,
			}).Error("vacate failed")
			continue
		}
		if !ok {
			// Another sweeper got there first, or a top-up extended it.
			continue
		}

		ev := domain.Event{
			Type:        domain.EventVacated,
			SlotNumber:  slot.SlotNumber,
			OccupancyID: occ.OccupancyID,
			ProjectName: occ.Project.Name,
			EndTime:     slot.EndTime,
			At:          now,
		}
		res.Evicted = append(res.Evicted, ev)
		s.emitter.Emit(ctx, ev)
	}
}

// promote fills free slots from the head of the waitlist, one promotion per
// slot at most. Each promotion is atomic in the store: a failure leaves the
// head entry queued where it was.
func (s *Sweeper) promote(ctx context.Context, now time.Time, res *Result) error {
	plan := func(e *domain.WaitlistEntry) storage.Promotion {
		return s.promotionFor(e, now)
	}

	for i := 0; i < s.engine.Rules().Slots; i++ {
		entry, slot, err := s.promoter.PromoteHead(ctx, plan)
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNoFreeSlot) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("promote waitlist head: %w", err)
		}

		ev := domain.Event{
			Type:        domain.EventPromoted,
			SlotNumber:  slot.SlotNumber,
			OccupancyID: slot.Occupant.OccupancyID,
			EntryID:     entry.ID,
			ProjectName: entry.Project.Name,
			Amount:      entry.Contribution,
			EndTime:     slot.EndTime,
			At:          now,
		}
		res.Promoted = append(res.Promoted, ev)
		s.emitter.Emit(ctx, ev)
		s.logger.WithFields(log.Fields{
			"slot":              slot.SlotNumber,
			"entry_id":          entry.ID,
			"payment_reference": entry.PaymentReference,
		}).Info("waitlist entry promoted")
	}
	return nil
}

// promotionFor builds the claim and the promoted ledger record for entry.
func (s *Sweeper) promotionFor(entry *domain.WaitlistEntry, now time.Time) storage.Promotion {
	return storage.Promotion{
		Occupant: &domain.Occupant{
			OccupancyID:      idhash.PromotedOccupancyID(entry.ID),
			Project:          entry.Project,
			WalletIdentity:   entry.WalletIdentity,
			PaymentReference: entry.PaymentReference,
		},
		Amount: entry.Contribution,
		Start:  now,
		End:    now.Add(s.engine.Rules().Duration(entry.Contribution)),
		Audit: &domain.Contribution{
			ID:               idhash.ContributionID(entry.PaymentReference, domain.ContributionPromoted),
			PayerIdentity:    entry.WalletIdentity,
			Amount:           entry.Contribution,
			PaymentReference: entry.PaymentReference,
			Kind:             domain.ContributionPromoted,
			Timestamp:        now,
		},
	}
}

func (s *Sweeper) updateGauges(ctx context.Context, now time.Time) {
	active, err := s.engine.ListActive(ctx, now)
	if err != nil {
		return
	}
	waiting, err := s.waitlist.Len(ctx)
	if err != nil {
		return
	}
	observability.UpdateOccupancy(len(active), waiting)
}
