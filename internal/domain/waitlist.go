package domain

import "time"

// WaitlistEntry is a paid submission waiting for a free slot.
// Corresponds to boost_waitlist table in PostgreSQL.
type WaitlistEntry struct {
	ID               string // uuid
	Seq              int64  // insertion sequence, breaks SubmittedAt ties
	Project          Project
	WalletIdentity   string
	Contribution     Cents
	PaymentReference string
	SubmittedAt      time.Time
}

// Before reports whether e is ahead of other in FIFO order.
func (e *WaitlistEntry) Before(other *WaitlistEntry) bool {
	if !e.SubmittedAt.Equal(other.SubmittedAt) {
		return e.SubmittedAt.Before(other.SubmittedAt)
	}
	return e.Seq < other.Seq
}
