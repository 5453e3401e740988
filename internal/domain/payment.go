package domain

import "time"

// PaymentPurpose tells which state write a journaled payment is waiting for.
type PaymentPurpose string

const (
	PurposeSubmission PaymentPurpose = "submission"
	PurposeTopUp      PaymentPurpose = "top_up"
)

// PaymentStatus is the reconciliation state of a journaled payment.
type PaymentStatus string

const (
	PaymentPending             PaymentStatus = "pending"              // recorded, state write in flight
	PaymentApplied             PaymentStatus = "applied"              // state write committed
	PaymentNeedsReconciliation PaymentStatus = "needs_reconciliation" // state write failed, retry later
	PaymentManual              PaymentStatus = "manual"               // cannot be applied automatically
	PaymentWithdrawn           PaymentStatus = "withdrawn"            // waitlist entry withdrawn by payer
)

// IsOpen reports whether the reconciler should still look at the payment.
func (s PaymentStatus) IsOpen() bool {
	return s == PaymentPending || s == PaymentNeedsReconciliation
}

// PaymentRecord is the durable journal entry written as soon as a payment is
// confirmed and before any slot or waitlist mutation.
// Corresponds to boost_payments table in PostgreSQL.
type PaymentRecord struct {
	Reference   string // confirmed transaction signature, PRIMARY KEY
	Payer       string
	Amount      Cents
	Lamports    uint64
	Purpose     PaymentPurpose
	Submission  *Submission // set for PurposeSubmission
	SlotNumber  int         // target slot for PurposeTopUp
	OccupancyID string      // target occupancy for PurposeTopUp, resulting occupancy otherwise
	Status      PaymentStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Receipt is what the payment collaborator returns for a settled payment.
type Receipt struct {
	Reference   string
	Lamports    uint64
	Rate        float64 // USD per SOL used for the conversion
	ConfirmedAt time.Time
}
