// Package orchestrator runs the boost lifecycle: paid submissions, top-ups,
// withdrawals and the read-side state query.
// Every state write happens after the payment is settled and journaled, on a
// context detached from the caller.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/martacalvinho/squares2/internal/admission"
	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/feed"
	"github.com/martacalvinho/squares2/internal/idhash"
	"github.com/martacalvinho/squares2/internal/observability"
	"github.com/martacalvinho/squares2/internal/storage"
)

// Kicker requests an immediate sweep.
type Kicker interface {
	Kick()
}

// Orchestrator coordinates admission, the slot engine, the waitlist and the
// payment journal.
type Orchestrator struct {
	engine        *boost.Engine
	gate          *admission.Gate
	slots         storage.SlotStore
	waitlist      storage.WaitlistStore
	contributions storage.ContributionStore
	journal       storage.PaymentJournal
	events        storage.EventStore
	emitter       feed.Emitter
	deadLetter    *DeadLetter
	kicker        Kicker
	clock         clock.PassiveClock
	logger        *log.Entry
}

// Options for creating Orchestrator.
type Options struct {
	// Required
	Engine        *boost.Engine
	Gate          *admission.Gate
	Slots         storage.SlotStore
	Waitlist      storage.WaitlistStore
	Contributions storage.ContributionStore
	Journal       storage.PaymentJournal

	// Optional
	Events     storage.EventStore // counters for State; zero counters when nil
	Emitter    feed.Emitter       // defaults to feed.Nop
	DeadLetter *DeadLetter        // last resort when the journal is unreachable
	Kicker     Kicker             // sweeper, kicked after waitlist changes
	Clock      clock.PassiveClock // defaults to the real clock
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Emitter == nil {
		opts.Emitter = feed.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Orchestrator{
		engine:        opts.Engine,
		gate:          opts.Gate,
		slots:         opts.Slots,
		waitlist:      opts.Waitlist,
		contributions: opts.Contributions,
		journal:       opts.Journal,
		events:        opts.Events,
		emitter:       opts.Emitter,
		deadLetter:    opts.DeadLetter,
		kicker:        opts.Kicker,
		clock:         opts.Clock,
		logger:        log.WithField("component", "orchestrator"),
	}
}

// Outcome tells where a paid submission ended up.
type Outcome string

const (
	OutcomeBoosted    Outcome = "boosted"
	OutcomeWaitlisted Outcome = "waitlisted"
)

// SubmitResult is the result of a successful submission.
type SubmitResult struct {
	Outcome          Outcome   `json:"outcome"`
	SlotNumber       int       `json:"slot_number,omitempty"` // boosted only
	OccupancyID      string    `json:"occupancy_id,omitempty"`
	EndTime          time.Time `json:"end_time,omitempty"`
	Position         int       `json:"position,omitempty"` // waitlisted only, 1-based
	EntryID          string    `json:"entry_id,omitempty"`
	PaymentReference string    `json:"payment_reference"`
	Lamports         uint64    `json:"lamports"`
}

// TopUpResult is the result of a successful additional contribution.
type TopUpResult struct {
	SlotNumber       int       `json:"slot_number"`
	OccupancyID      string    `json:"occupancy_id"`
	EndTime          time.Time `json:"end_time"`
	PaymentReference string    `json:"payment_reference"`
}

// SubmitProject admits a submission and places it in the first free slot or,
// when every slot is taken, at the tail of the waitlist.
func (o *Orchestrator) SubmitProject(ctx context.Context, sub domain.Submission) (*SubmitResult, error) {
	sub = admission.Normalize(sub)

	admitted, err := o.gate.Admit(ctx, sub)
	if err != nil {
		observability.RecordSubmission(rejectionOutcome(err))
		return nil, err
	}
	observability.RecordContribution(int64(sub.Contribution))

	// The payment is settled: nothing below may be abandoned by the caller.
	ctx = context.WithoutCancel(ctx)

	rec := &domain.PaymentRecord{
		Reference:  admitted.PaymentReference,
		Payer:      sub.WalletIdentity,
		Amount:     sub.Contribution,
		Lamports:   admitted.Lamports,
		Purpose:    domain.PurposeSubmission,
		Submission: &sub,
		Status:     domain.PaymentPending,
		CreatedAt:  o.clock.Now(),
	}
	o.recordPayment(ctx, rec)

	res, err := o.applySubmission(ctx, rec)
	if err != nil {
		observability.RecordSubmission("persistence_error")
		return nil, o.persistenceFailed(ctx, rec, err)
	}
	res.Lamports = admitted.Lamports

	o.markApplied(ctx, rec, res.OccupancyID)
	observability.RecordSubmission(string(res.Outcome))
	if res.Outcome == OutcomeWaitlisted && o.kicker != nil {
		o.kicker.Kick()
	}
	return res, nil
}

// ContributeMore extends the occupancy in slotNumber. occupancyID pins the
// occupancy the payer saw; empty means whoever holds the slot now. The
// capacity check runs before payment so a top-up that cannot fit costs nothing.
func (o *Orchestrator) ContributeMore(ctx context.Context, slotNumber int, occupancyID, payer string, amount domain.Cents, proof string) (*TopUpResult, error) {
	if err := admission.ValidatePayment(o.engine.Rules(), payer, amount, proof); err != nil {
		observability.RecordTopUp("rejected")
		return nil, err
	}

	slot, err := o.engine.Slot(ctx, slotNumber)
	if err != nil {
		observability.RecordTopUp("rejected")
		return nil, err
	}
	if !slot.IsActive(o.clock.Now()) {
		observability.RecordTopUp("rejected")
		return nil, boost.ErrSlotEmpty
	}
	if occupancyID != "" && slot.Occupant.OccupancyID != occupancyID {
		observability.RecordTopUp("rejected")
		return nil, boost.ErrOccupantChanged
	}
	if err := o.engine.CheckTopUp(slot, amount); err != nil {
		observability.RecordTopUp("capacity_exceeded")
		return nil, err
	}
	occupancyID = slot.Occupant.OccupancyID

	admitted, err := o.gate.AdmitTopUp(ctx, payer, amount, proof)
	if err != nil {
		observability.RecordTopUp(rejectionOutcome(err))
		return nil, err
	}
	observability.RecordContribution(int64(amount))

	ctx = context.WithoutCancel(ctx)

	rec := &domain.PaymentRecord{
		Reference:   admitted.PaymentReference,
		Payer:       payer,
		Amount:      amount,
		Lamports:    admitted.Lamports,
		Purpose:     domain.PurposeTopUp,
		SlotNumber:  slotNumber,
		OccupancyID: occupancyID,
		Status:      domain.PaymentPending,
		CreatedAt:   o.clock.Now(),
	}
	o.recordPayment(ctx, rec)

	res, err := o.applyTopUp(ctx, rec)
	if err != nil {
		observability.RecordTopUp("persistence_error")
		return nil, o.persistenceFailed(ctx, rec, err)
	}

	o.markApplied(ctx, rec, occupancyID)
	observability.RecordTopUp("applied")
	return res, nil
}

// Withdraw removes a waitlist entry owned by wallet. The payment is flagged
// withdrawn in the journal for manual follow-up; nothing is refunded here.
func (o *Orchestrator) Withdraw(ctx context.Context, entryID, wallet string) (*domain.WaitlistEntry, error) {
	entries, err := o.waitlist.PeekAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read waitlist: %w", err)
	}

	var entry *domain.WaitlistEntry
	for _, e := range entries {
		if e.ID == entryID {
			entry = e
			break
		}
	}
	if entry == nil {
		return nil, boost.ErrEntryNotFound
	}
	if entry.WalletIdentity != wallet {
		return nil, boost.ErrNotOwner
	}

	removed, err := o.waitlist.Remove(ctx, entryID)
	if errors.Is(err, storage.ErrNotFound) {
		// Promoted between the read and the delete.
		return nil, boost.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("remove waitlist entry: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	if err := o.journal.SetStatus(ctx, removed.PaymentReference, domain.PaymentWithdrawn, "", ""); err != nil && !errors.Is(err, storage.ErrNotFound) {
		o.logger.WithError(err).WithField("payment_reference", removed.PaymentReference).Error("failed to flag withdrawn payment")
	}

	o.emitter.Emit(ctx, domain.Event{
		Type:        domain.EventWithdrawn,
		EntryID:     removed.ID,
		ProjectName: removed.Project.Name,
		Amount:      removed.Contribution,
		At:          o.clock.Now(),
	})
	observability.RecordWithdrawal()
	o.logger.WithFields(log.Fields{
		"entry_id":          removed.ID,
		"payment_reference": removed.PaymentReference,
	}).Info("waitlist entry withdrawn")
	return removed, nil
}

// Quote returns the duration bought by amount and, for slotNumber > 0, the
// largest top-up that slot still accepts.
func (o *Orchestrator) Quote(ctx context.Context, amount domain.Cents, slotNumber int) (time.Duration, domain.Cents, error) {
	d := o.engine.Rules().Duration(amount)
	if slotNumber <= 0 {
		return d, 0, nil
	}
	maxTopUp, err := o.engine.MaxTopUp(ctx, slotNumber)
	if err != nil {
		return 0, 0, err
	}
	return d, maxTopUp, nil
}

// applySubmission claims a slot or enqueues rec's submission. Identifiers are
// derived from the payment reference so a retry finds the earlier attempt.
func (o *Orchestrator) applySubmission(ctx context.Context, rec *domain.PaymentRecord) (*SubmitResult, error) {
	sub := rec.Submission
	if sub == nil {
		return nil, &boost.PersistenceError{Op: "apply", PaymentReference: rec.Reference, Payer: rec.Payer, Amount: rec.Amount, Err: errors.New("journal entry has no submission")}
	}
	now := o.clock.Now()

	occupant := &domain.Occupant{
		OccupancyID:      idhash.OccupancyID(rec.Reference),
		Project:          sub.Project,
		WalletIdentity:   sub.WalletIdentity,
		PaymentReference: rec.Reference,
	}

	slot, err := o.engine.ClaimFirstFree(ctx, occupant, sub.Contribution, now)
	switch {
	case err == nil:
		o.audit(ctx, &domain.Contribution{
			SlotNumber:       &slot.SlotNumber,
			OccupancyID:      occupant.OccupancyID,
			PayerIdentity:    sub.WalletIdentity,
			Amount:           sub.Contribution,
			PaymentReference: rec.Reference,
			Kind:             domain.ContributionInitial,
			Timestamp:        now,
		})
		o.emitter.Emit(ctx, domain.Event{
			Type:        domain.EventClaimed,
			SlotNumber:  slot.SlotNumber,
			OccupancyID: occupant.OccupancyID,
			ProjectName: sub.Project.Name,
			Amount:      sub.Contribution,
			EndTime:     slot.EndTime,
			At:          now,
		})
		o.logger.WithFields(log.Fields{
			"slot":              slot.SlotNumber,
			"occupancy_id":      occupant.OccupancyID,
			"payment_reference": rec.Reference,
			"end_time":          slot.EndTime,
		}).Info("slot claimed")
		return &SubmitResult{
			Outcome:          OutcomeBoosted,
			SlotNumber:       slot.SlotNumber,
			OccupancyID:      occupant.OccupancyID,
			EndTime:          slot.EndTime,
			PaymentReference: rec.Reference,
		}, nil

	case errors.Is(err, boost.ErrClaimConflict):
		return o.enqueue(ctx, rec, now)

	default:
		return nil, &boost.PersistenceError{Op: "claim", PaymentReference: rec.Reference, Payer: rec.Payer, Amount: rec.Amount, Err: err}
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, rec *domain.PaymentRecord, now time.Time) (*SubmitResult, error) {
	sub := rec.Submission
	entry := &domain.WaitlistEntry{
		ID:               idhash.EntryID(rec.Reference),
		Project:          sub.Project,
		WalletIdentity:   sub.WalletIdentity,
		Contribution:     sub.Contribution,
		PaymentReference: rec.Reference,
		SubmittedAt:      now,
	}
	if err := o.waitlist.Push(ctx, entry); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return nil, &boost.PersistenceError{Op: "waitlist", PaymentReference: rec.Reference, Payer: rec.Payer, Amount: rec.Amount, Err: err}
	}

	o.audit(ctx, &domain.Contribution{
		PayerIdentity:    sub.WalletIdentity,
		Amount:           sub.Contribution,
		PaymentReference: rec.Reference,
		Kind:             domain.ContributionWaitlisted,
		Timestamp:        now,
	})
	o.emitter.Emit(ctx, domain.Event{
		Type:        domain.EventWaitlisted,
		EntryID:     entry.ID,
		ProjectName: sub.Project.Name,
		Amount:      sub.Contribution,
		At:          now,
	})

	position := 0
	if entries, err := o.waitlist.PeekAll(ctx); err == nil {
		for i, e := range entries {
			if e.ID == entry.ID {
				position = i + 1
				break
			}
		}
	}

	o.logger.WithFields(log.Fields{
		"entry_id":          entry.ID,
		"position":          position,
		"payment_reference": rec.Reference,
	}).Info("submission waitlisted")
	return &SubmitResult{
		Outcome:          OutcomeWaitlisted,
		Position:         position,
		EntryID:          entry.ID,
		PaymentReference: rec.Reference,
	}, nil
}

// applyTopUp extends the occupancy named in rec wherever it ranks now.
func (o *Orchestrator) applyTopUp(ctx context.Context, rec *domain.PaymentRecord) (*TopUpResult, error) {
	fail := func(op string, err error) error {
		return &boost.PersistenceError{Op: op, PaymentReference: rec.Reference, Payer: rec.Payer, Amount: rec.Amount, Err: err}
	}

	// A sweep may rerank between lookup and extend; one retry follows the move.
	var (
		slot *domain.Slot
		end  time.Time
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		slot, err = o.slots.FindByOccupancy(ctx, rec.OccupancyID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail("extend", boost.ErrSlotEmpty)
		}
		if err != nil {
			return nil, fail("extend", err)
		}
		end, err = o.engine.Extend(ctx, slot.SlotNumber, rec.OccupancyID, rec.Amount, o.clock.Now())
		if !errors.Is(err, boost.ErrOccupantChanged) {
			break
		}
	}
	if err != nil {
		return nil, fail("extend", err)
	}

	now := o.clock.Now()
	o.audit(ctx, &domain.Contribution{
		SlotNumber:       &slot.SlotNumber,
		OccupancyID:      rec.OccupancyID,
		PayerIdentity:    rec.Payer,
		Amount:           rec.Amount,
		PaymentReference: rec.Reference,
		Kind:             domain.ContributionTopUp,
		Timestamp:        now,
	})
	o.emitter.Emit(ctx, domain.Event{
		Type:        domain.EventExtended,
		SlotNumber:  slot.SlotNumber,
		OccupancyID: rec.OccupancyID,
		ProjectName: slot.Occupant.Project.Name,
		Amount:      rec.Amount,
		EndTime:     end,
		At:          now,
	})
	o.logger.WithFields(log.Fields{
		"slot":              slot.SlotNumber,
		"occupancy_id":      rec.OccupancyID,
		"payment_reference": rec.Reference,
		"end_time":          end,
	}).Info("occupancy extended")

	return &TopUpResult{
		SlotNumber:       slot.SlotNumber,
		OccupancyID:      rec.OccupancyID,
		EndTime:          end,
		PaymentReference: rec.Reference,
	}, nil
}

// audit appends a contribution record. The state write it documents is
// already committed, so a failure is logged and left to reconciliation.
func (o *Orchestrator) audit(ctx context.Context, c *domain.Contribution) {
	if c.ID == "" {
		c.ID = idhash.ContributionID(c.PaymentReference, c.Kind)
	}
	err := o.contributions.Insert(ctx, c)
	if err == nil || errors.Is(err, storage.ErrDuplicateKey) {
		return
	}
	o.logger.WithError(err).WithFields(log.Fields{
		"payment_reference": c.PaymentReference,
		"kind":              c.Kind,
		"amount":            c.Amount.String(),
	}).Error("contribution record not written")
}

func (o *Orchestrator) recordPayment(ctx context.Context, rec *domain.PaymentRecord) {
	err := o.journal.Record(ctx, rec)
	if err == nil {
		return
	}
	o.logger.WithError(err).WithFields(log.Fields{
		"payment_reference": rec.Reference,
		"payer":             rec.Payer,
		"amount":            rec.Amount.String(),
	}).Error("payment journal unreachable")
	o.deadLetter.Write(rec, err)
}

func (o *Orchestrator) markApplied(ctx context.Context, rec *domain.PaymentRecord, occupancyID string) {
	if err := o.journal.SetStatus(ctx, rec.Reference, domain.PaymentApplied, occupancyID, ""); err != nil {
		// The state write is done; an open journal entry only costs the
		// reconciler an idempotent retry.
		o.logger.WithError(err).WithField("payment_reference", rec.Reference).Warn("failed to mark payment applied")
	}
}

// persistenceFailed logs a failed post-payment write, flags the journal entry
// for reconciliation and returns the error for the caller.
func (o *Orchestrator) persistenceFailed(ctx context.Context, rec *domain.PaymentRecord, err error) error {
	var perr *boost.PersistenceError
	if !errors.As(err, &perr) {
		perr = &boost.PersistenceError{Op: "apply", PaymentReference: rec.Reference, Payer: rec.Payer, Amount: rec.Amount, Err: err}
	}

	o.logger.WithError(perr.Err).WithFields(log.Fields{
		"op":                perr.Op,
		"payment_reference": rec.Reference,
		"payer":             rec.Payer,
		"amount":            rec.Amount.String(),
	}).Error("state write failed after payment")

	status := domain.PaymentNeedsReconciliation
	if !Retryable(perr.Err) {
		status = domain.PaymentManual
	}
	if jerr := o.journal.SetStatus(ctx, rec.Reference, status, "", perr.Error()); jerr != nil {
		rec.Status = status
		rec.LastError = perr.Error()
		o.deadLetter.Write(rec, jerr)
	}
	return perr
}

// Retryable reports whether a failed write may succeed on a later attempt.
// A full or vanished occupancy will not fix itself.
func Retryable(err error) bool {
	return !errors.Is(err, boost.ErrCapacityExceeded) &&
		!errors.Is(err, boost.ErrSlotEmpty) &&
		!errors.Is(err, boost.ErrSlotNotFound)
}

func rejectionOutcome(err error) string {
	switch {
	case boost.IsValidation(err):
		return "rejected"
	case errors.Is(err, boost.ErrPaymentTimeout):
		return "payment_timeout"
	case boost.IsPayment(err):
		return "payment_failed"
	default:
		return "error"
	}
}
