package boost

import (
	"errors"
	"fmt"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// Sentinel errors.
var (
	// ErrPaymentTimeout is returned when payment confirmation does not finish in time.
	ErrPaymentTimeout = errors.New("payment confirmation timed out")

	// ErrCapacityExceeded is returned when a top-up would push an occupancy past the cap.
	ErrCapacityExceeded = storage.ErrCapacityExceeded

	// ErrSlotNotFound is returned when a top-up targets a slot number outside 1..N.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSlotEmpty is returned when a top-up targets an empty slot.
	ErrSlotEmpty = storage.ErrSlotEmpty

	// ErrOccupantChanged is returned when a top-up names an occupancy that no longer holds the slot.
	ErrOccupantChanged = storage.ErrOccupantChanged

	// ErrEntryNotFound is returned when a waitlist entry does not exist.
	ErrEntryNotFound = errors.New("waitlist entry not found")

	// ErrClaimConflict is returned when no empty slot could be claimed.
	ErrClaimConflict = errors.New("no free slot could be claimed")

	// ErrNotOwner is returned when someone other than the payer tries to withdraw an entry.
	ErrNotOwner = errors.New("wallet does not own this waitlist entry")
)

// ValidationError reports a rejected submission field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(reason, args...)}
}

// PaymentError reports a declined, unverifiable or timed-out payment.
// No state was mutated when it is returned.
type PaymentError struct {
	Reason string
	Err    error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment failed: %s: %v", e.Reason, e.Err)
	}
	return "payment failed: " + e.Reason
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a state write that failed after a payment was taken.
// It carries enough to reconcile the payment by hand.
type PersistenceError struct {
	Op               string
	PaymentReference string
	Payer            string
	Amount           domain.Cents
	Err              error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed after payment %s (%s from %s): %v",
		e.Op, e.PaymentReference, e.Amount, e.Payer, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPayment reports whether err is a PaymentError.
func IsPayment(err error) bool {
	var p *PaymentError
	return errors.As(err, &p)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
