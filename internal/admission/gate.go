// Package admission validates boost requests and settles their payment.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/payment"
	"github.com/martacalvinho/squares2/internal/storage"
)

// DefaultPaymentTimeout bounds one payment confirmation.
const DefaultPaymentTimeout = 60 * time.Second

// Options configures Gate.
type Options struct {
	Rules          boost.Rules
	Processor      payment.Processor
	Guard          payment.Guard
	Journal        storage.PaymentJournal // settled references are never accepted again
	PaymentTimeout time.Duration
}

// Gate validates requests and invokes the payment processor exactly once per admitted request.
type Gate struct {
	rules     boost.Rules
	processor payment.Processor
	guard     payment.Guard
	journal   storage.PaymentJournal
	timeout   time.Duration
	logger    *log.Entry
}

// AdmissionResult is a settled payment.
type AdmissionResult struct {
	PaymentReference string
	Lamports         uint64
	Rate             float64
	ConfirmedAt      time.Time
}

// New creates a Gate.
func New(opts Options) *Gate {
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = DefaultPaymentTimeout
	}
	if opts.Guard == nil {
		opts.Guard = payment.NewMemoryGuard()
	}
	return &Gate{
		rules:     opts.Rules,
		processor: opts.Processor,
		guard:     opts.Guard,
		journal:   opts.Journal,
		timeout:   opts.PaymentTimeout,
		logger:    log.WithField("component", "admission"),
	}
}

// Normalize returns sub with its project fields normalized.
func Normalize(sub domain.Submission) domain.Submission {
	sub.Project = NormalizeProject(sub.Project)
	return sub
}

// Validate checks a normalized submission without paying.
func (g *Gate) Validate(sub domain.Submission) error {
	if err := ValidateProject(sub.Project); err != nil {
		return err
	}
	return ValidatePayment(g.rules, sub.WalletIdentity, sub.Contribution, sub.PaymentProof)
}

// Admit validates a normalized submission and settles its payment.
func (g *Gate) Admit(ctx context.Context, sub domain.Submission) (*AdmissionResult, error) {
	if err := g.Validate(sub); err != nil {
		return nil, err
	}
	return g.pay(ctx, payment.Request{
		Payer:  sub.WalletIdentity,
		Amount: sub.Contribution,
		Proof:  sub.PaymentProof,
	})
}

// AdmitTopUp validates and settles an additional contribution.
func (g *Gate) AdmitTopUp(ctx context.Context, payer string, amount domain.Cents, proof string) (*AdmissionResult, error) {
	if err := ValidatePayment(g.rules, payer, amount, proof); err != nil {
		return nil, err
	}
	return g.pay(ctx, payment.Request{Payer: payer, Amount: amount, Proof: proof})
}

// pay runs the processor on a context detached from the caller and bounded by
// the payment timeout, so a client disconnect cannot abandon a payment half way.
func (g *Gate) pay(ctx context.Context, req payment.Request) (*AdmissionResult, error) {
	if err := g.checkUnused(ctx, req.Proof); err != nil {
		return nil, err
	}

	acquired, err := g.guard.Acquire(ctx, req.Proof)
	if err != nil {
		return nil, &payment.GuardError{Err: err}
	}
	if !acquired {
		return nil, &boost.PaymentError{Reason: "reused", Err: payment.ErrReused}
	}

	payCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	logger := g.logger.WithFields(log.Fields{"payer": req.Payer, "amount": req.Amount.String(), "reference": req.Proof})

	receipt, err := g.processor.Pay(payCtx, req)
	if err != nil {
		if releaseErr := g.guard.Release(context.WithoutCancel(ctx), req.Proof); releaseErr != nil {
			logger.WithError(releaseErr).Warn("failed to release payment guard")
		}

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(payCtx.Err(), context.DeadlineExceeded) {
			logger.WithField("timeout", g.timeout).Warn("payment timed out")
			return nil, &boost.PaymentError{Reason: "timeout", Err: boost.ErrPaymentTimeout}
		}
		logger.WithError(err).Info("payment declined")
		return nil, &boost.PaymentError{Reason: "declined", Err: err}
	}

	return &AdmissionResult{
		PaymentReference: receipt.Reference,
		Lamports:         receipt.Lamports,
		Rate:             receipt.Rate,
		ConfirmedAt:      receipt.ConfirmedAt,
	}, nil
}

func (g *Gate) checkUnused(ctx context.Context, reference string) error {
	if g.journal == nil {
		return nil
	}
	_, err := g.journal.Get(ctx, reference)
	switch {
	case err == nil:
		return &boost.PaymentError{Reason: "reused", Err: payment.ErrReused}
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check payment journal: %w", err)
	}
}
