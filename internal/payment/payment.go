// Package payment settles boost contributions.
package payment

import (
	"context"
	"errors"

	"github.com/martacalvinho/squares2/internal/domain"
)

// Errors returned by processors.
var (
	ErrNotConfirmed       = errors.New("transaction not confirmed")
	ErrTransactionFailed  = errors.New("transaction failed on chain")
	ErrWrongPayer         = errors.New("transaction not signed by payer")
	ErrWrongRecipient     = errors.New("transaction does not pay the recipient")
	ErrInsufficientAmount = errors.New("transferred amount is below the contribution")
	ErrReused             = errors.New("payment proof already used")
)

// Request asks a processor to settle amount from payer, proven by proof.
type Request struct {
	Payer  string
	Amount domain.Cents
	Proof  string
}

// Processor settles one payment. Pay is called at most once per request and
// must honour ctx for cancellation and deadline.
type Processor interface {
	Pay(ctx context.Context, req Request) (*domain.Receipt, error)
}

// Guard keeps a payment proof from being used twice while it is in flight.
type Guard interface {
	// Acquire claims reference. Returns false if it is already claimed.
	Acquire(ctx context.Context, reference string) (bool, error)

	// Release frees reference so the proof can be presented again.
	Release(ctx context.Context, reference string) error
}

// GuardError reports that the replay guard itself is unavailable.
type GuardError struct {
	Err error
}

func (e *GuardError) Error() string {
	return "payment guard unavailable: " + e.Err.Error()
}

func (e *GuardError) Unwrap() error {
	return e.Err
}
