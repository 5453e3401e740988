package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
)

// SlotView is one active slot as shown to clients.
type SlotView struct {
	SlotNumber              int            `json:"slot_number"`
	OccupancyID             string         `json:"occupancy_id"`
	Project                 domain.Project `json:"project"`
	WalletIdentity          string         `json:"wallet_identity"`
	StartTime               time.Time      `json:"start_time"`
	EndTime                 time.Time      `json:"end_time"`
	RemainingSeconds        int64          `json:"remaining_seconds"`
	AccumulatedContribution domain.Cents   `json:"accumulated_contribution"`
	ContributorCount        int            `json:"contributor_count"`
	MaxTopUp                domain.Cents   `json:"max_top_up"`
}

// WaitlistView is one waiting entry as shown to clients.
type WaitlistView struct {
	Position       int            `json:"position"`
	ID             string         `json:"id"`
	Project        domain.Project `json:"project"`
	WalletIdentity string         `json:"wallet_identity"`
	Contribution   domain.Cents   `json:"contribution"`
	SubmittedAt    time.Time      `json:"submitted_at"`
}

// State is a point-in-time view of the boost system.
type State struct {
	Now      time.Time       `json:"now"`
	Capacity int             `json:"capacity"`
	Slots    []SlotView      `json:"slots"`
	Waitlist []WaitlistView  `json:"waitlist"`
	Counters domain.Counters `json:"counters"`
}

// State returns the active slots with their contributor stats, the waitlist
// in FIFO order and the lifetime counters.
func (o *Orchestrator) State(ctx context.Context) (*State, error) {
	now := o.clock.Now()
	rules := o.engine.Rules()

	active, err := o.engine.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.Occupant.OccupancyID)
	}
	stats, err := o.contributions.StatsByOccupancy(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("contribution stats: %w", err)
	}

	state := &State{
		Now:      now,
		Capacity: rules.Slots,
		Slots:    make([]SlotView, 0, len(active)),
		Waitlist: []WaitlistView{},
	}
	for _, s := range active {
		st := stats[s.Occupant.OccupancyID]
		state.Slots = append(state.Slots, SlotView{
			SlotNumber:              s.SlotNumber,
			OccupancyID:             s.Occupant.OccupancyID,
			Project:                 s.Occupant.Project,
			WalletIdentity:          s.Occupant.WalletIdentity,
			StartTime:               s.StartTime,
			EndTime:                 s.EndTime,
			RemainingSeconds:        int64(s.Remaining(now) / time.Second),
			AccumulatedContribution: s.AccumulatedContribution,
			ContributorCount:        st.ContributorCount,
			MaxTopUp:                rules.MaxTopUp(s.Booked()),
		})
	}

	entries, err := o.waitlist.PeekAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read waitlist: %w", err)
	}
	for i, e := range entries {
		state.Waitlist = append(state.Waitlist, WaitlistView{
			Position:       i + 1,
			ID:             e.ID,
			Project:        e.Project,
			WalletIdentity: e.WalletIdentity,
			Contribution:   e.Contribution,
			SubmittedAt:    e.SubmittedAt,
		})
	}

	if o.events != nil {
		counters, err := o.events.Counters(ctx)
		if err != nil {
			return nil, fmt.Errorf("read counters: %w", err)
		}
		state.Counters = *counters
	}
	return state, nil
}
