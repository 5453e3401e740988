// Package verification checks the slot ledger against the contribution
// audit trail.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// Check names.
const (
	CheckCapacity        = "capacity"         // booked time within the cap
	CheckLedger          = "ledger"           // accumulated amount equals audited amount
	CheckDuration        = "duration"         // booked time equals the time bought by each record
	CheckUniqueOccupancy = "unique_occupancy" // one slot per occupancy
	CheckIdleSlot        = "idle_slot"        // free slot while entries wait; clears on the next sweep
)

// Divergence is one failed check.
type Divergence struct {
	Check       string `json:"check"`
	SlotNumber  int    `json:"slot_number,omitempty"`
	OccupancyID string `json:"occupancy_id,omitempty"`
	Expected    string `json:"expected"`
	Actual      string `json:"actual"`
}

// Report is the result of one verification pass.
type Report struct {
	Slots       int          `json:"slots"`
	Occupied    int          `json:"occupied"`
	Waiting     int          `json:"waiting"`
	Divergences []Divergence `json:"divergences"`
	Warnings    []Divergence `json:"warnings"` // transient conditions
}

// OK reports whether no check failed. Warnings do not count.
func (r *Report) OK() bool {
	return len(r.Divergences) == 0
}

// Verifier compares slot rows with their contribution records.
type Verifier struct {
	rules         boost.Rules
	slots         storage.SlotStore
	waitlist      storage.WaitlistStore
	contributions storage.ContributionStore
}

// New creates a Verifier.
func New(rules boost.Rules, slots storage.SlotStore, waitlist storage.WaitlistStore, contributions storage.ContributionStore) *Verifier {
	return &Verifier{rules: rules, slots: slots, waitlist: waitlist, contributions: contributions}
}

// Verify runs every check against the current state.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	slots, err := v.slots.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	waiting, err := v.waitlist.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("waitlist length: %w", err)
	}

	report := &Report{Slots: len(slots), Waiting: waiting}
	seen := make(map[string]int)
	free := 0

	for _, slot := range slots {
		if slot.IsEmpty() {
			free++
			continue
		}
		report.Occupied++
		id := slot.Occupant.OccupancyID

		if prev, dup := seen[id]; dup {
			report.Divergences = append(report.Divergences, Divergence{
				Check: CheckUniqueOccupancy, SlotNumber: slot.SlotNumber, OccupancyID: id,
				Expected: fmt.Sprintf("only slot %d", prev), Actual: fmt.Sprintf("also slot %d", slot.SlotNumber),
			})
		}
		seen[id] = slot.SlotNumber

		divs, err := v.verifySlot(ctx, slot)
		if err != nil {
			return nil, err
		}
		report.Divergences = append(report.Divergences, divs...)
	}

	if free > 0 && waiting > 0 {
		report.Warnings = append(report.Warnings, Divergence{
			Check:    CheckIdleSlot,
			Expected: "no free slot while entries wait",
			Actual:   fmt.Sprintf("%d free, %d waiting", free, waiting),
		})
	}
	return report, nil
}

func (v *Verifier) verifySlot(ctx context.Context, slot *domain.Slot) ([]Divergence, error) {
	id := slot.Occupant.OccupancyID
	records, err := v.contributions.GetByOccupancy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("contributions of %s: %w", id, err)
	}

	var (
		audited domain.Cents
		bought  time.Duration
	)
	for _, c := range records {
		switch c.Kind {
		case domain.ContributionInitial, domain.ContributionTopUp, domain.ContributionPromoted:
			audited += c.Amount
			bought += v.rules.Duration(c.Amount)
		}
	}

	var divs []Divergence
	diverge := func(check string, expected, actual any) {
		divs = append(divs, Divergence{
			Check: check, SlotNumber: slot.SlotNumber, OccupancyID: id,
			Expected: fmt.Sprint(expected), Actual: fmt.Sprint(actual),
		})
	}

	booked := slot.Booked()
	if booked > v.rules.MaxDuration {
		diverge(CheckCapacity, "<= "+v.rules.MaxDuration.String(), booked)
	}
	if audited != slot.AccumulatedContribution {
		diverge(CheckLedger, audited, slot.AccumulatedContribution)
	}
	if bought != booked {
		diverge(CheckDuration, bought, booked)
	}
	return divs, nil
}
