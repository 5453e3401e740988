package domain

import "time"

// ContributionKind tells why a contribution record was written.
type ContributionKind string

const (
	ContributionInitial    ContributionKind = "initial"    // paid and claimed a slot directly
	ContributionTopUp      ContributionKind = "top_up"     // extended a running occupancy
	ContributionWaitlisted ContributionKind = "waitlisted" // paid and joined the waitlist
	ContributionPromoted   ContributionKind = "promoted"   // waitlisted payment moved into a slot
)

// String returns the string representation of ContributionKind.
func (k ContributionKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k ContributionKind) IsValid() bool {
	switch k {
	case ContributionInitial, ContributionTopUp, ContributionWaitlisted, ContributionPromoted:
		return true
	}
	return false
}

// CountsTowardSlot reports whether the kind backs an occupancy's accumulated contribution.
func (k ContributionKind) CountsTowardSlot() bool {
	return k == ContributionInitial || k == ContributionTopUp || k == ContributionPromoted
}

// Contribution is an append-only audit record of money paid into the boost system.
// Corresponds to boost_contributions table in PostgreSQL.
type Contribution struct {
	ID               string // uuid
	SlotNumber       *int   // nil for waitlist-origin records
	OccupancyID      string // empty for waitlist-origin records
	PayerIdentity    string
	Amount           Cents
	PaymentReference string
	Kind             ContributionKind
	Timestamp        time.Time
}

// SlotStats aggregates the contributions behind one occupancy.
type SlotStats struct {
	OccupancyID      string
	Total            Cents
	ContributorCount int
}
