package domain

import "time"

// Occupant is the project currently holding a slot.
type Occupant struct {
	OccupancyID      string // stable key of one continuous occupancy (uuid)
	Project          Project
	WalletIdentity   string
	PaymentReference string // reference of the payment that opened the occupancy
}

// Slot is one of the fixed display positions.
// Corresponds to boost_slots table in PostgreSQL.
type Slot struct {
	SlotNumber              int       // 1..N, rank reassigned by every sweep
	Occupant                *Occupant // nil when empty
	StartTime               time.Time
	EndTime                 time.Time
	AccumulatedContribution Cents
	Version                 int64 // bumped on every mutation
	UpdatedAt               time.Time
}

// IsEmpty reports whether the slot has no occupant.
func (s *Slot) IsEmpty() bool {
	return s.Occupant == nil
}

// IsActive reports whether the slot is occupied and not yet expired at now.
func (s *Slot) IsActive(now time.Time) bool {
	return s.Occupant != nil && now.Before(s.EndTime)
}

// IsExpired reports whether the slot is occupied and its end time has passed.
func (s *Slot) IsExpired(now time.Time) bool {
	return s.Occupant != nil && !now.Before(s.EndTime)
}

// Remaining returns the time left before expiry, never negative.
func (s *Slot) Remaining(now time.Time) time.Duration {
	if s.Occupant == nil || !now.Before(s.EndTime) {
		return 0
	}
	return s.EndTime.Sub(now)
}

// Booked returns the occupancy length bought so far (EndTime - StartTime).
func (s *Slot) Booked() time.Duration {
	if s.Occupant == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// Clone returns a deep copy of the slot.
func (s *Slot) Clone() *Slot {
	c := *s
	if s.Occupant != nil {
		o := *s.Occupant
		c.Occupant = &o
	}
	return &c
}

// SlotMove describes a slot number reassignment made by a rerank.
type SlotMove struct {
	OccupancyID string
	From        int
	To          int
}
