// Package reconcile finishes state writes for payments that were settled but
// never applied. It reads the payment journal and never pays.
package reconcile

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/lifecycle"
	"github.com/martacalvinho/squares2/internal/observability"
	"github.com/martacalvinho/squares2/internal/orchestrator"
	"github.com/martacalvinho/squares2/internal/storage"
)

// Defaults.
const (
	DefaultInterval    = time.Minute
	DefaultGrace       = 2 * time.Minute
	DefaultMaxAttempts = 5
	DefaultBatchSize   = 100
)

// Applier re-runs the state write of a journaled payment.
type Applier interface {
	Reapply(ctx context.Context, rec *domain.PaymentRecord) (string, error)
}

// Options configures a Reconciler.
type Options struct {
	Journal     storage.PaymentJournal
	Applier     Applier
	Interval    time.Duration
	Grace       time.Duration // pending entries younger than this are still in flight
	MaxAttempts int           // failed attempts before an entry goes to manual
	BatchSize   int
	Clock       clock.WithTicker
}

// Report summarizes one pass.
type Report struct {
	Applied int
	Retry   int
	Manual  int
}

// Reconciler periodically re-applies open journal entries.
type Reconciler struct {
	journal     storage.PaymentJournal
	applier     Applier
	grace       time.Duration
	maxAttempts int
	batchSize   int
	clock       clock.WithTicker
	loop        *lifecycle.Loop
	logger      *log.Entry
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	r := &Reconciler{
		journal:     opts.Journal,
		applier:     opts.Applier,
		grace:       opts.Grace,
		maxAttempts: opts.MaxAttempts,
		batchSize:   opts.BatchSize,
		clock:       opts.Clock,
		logger:      log.WithField("component", "reconciler"),
	}
	r.loop = lifecycle.NewLoop("reconciler", opts.Interval, opts.Clock, func(ctx context.Context) {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Error("reconciliation pass failed")
		}
	})
	return r
}

// Start runs passes on the configured interval until Stop.
func (r *Reconciler) Start(ctx context.Context) error {
	return r.loop.Start(ctx)
}

// Stop stops the loop and waits for a running pass.
func (r *Reconciler) Stop(ctx context.Context) error {
	return r.loop.Stop(ctx)
}

// Open lists the entries the next pass would look at.
func (r *Reconciler) Open(ctx context.Context) ([]*domain.PaymentRecord, error) {
	return r.journal.ListOpen(ctx, r.clock.Now().Add(-r.grace), r.batchSize)
}

// RunOnce processes one batch of open journal entries.
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	open, err := r.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open payments: %w", err)
	}

	report := &Report{}
	for _, rec := range open {
		if ctx.Err() != nil {
			break
		}
		r.reconcile(ctx, rec, report)
	}

	if counts, err := r.journal.CountByStatus(ctx); err == nil {
		backlog := make(map[string]int, len(counts))
		for status, n := range counts {
			backlog[string(status)] = n
		}
		observability.UpdateJournalBacklog(backlog)
	}

	if len(open) > 0 {
		r.logger.WithFields(log.Fields{
			"applied": report.Applied,
			"retry":   report.Retry,
			"manual":  report.Manual,
		}).Info("reconciliation pass done")
	}
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, rec *domain.PaymentRecord, report *Report) {
	logger := r.logger.WithFields(log.Fields{
		"payment_reference": rec.Reference,
		"purpose":           rec.Purpose,
		"attempts":          rec.Attempts,
	})

	occupancyID, err := r.applier.Reapply(ctx, rec)
	if err == nil {
		if serr := r.journal.SetStatus(ctx, rec.Reference, domain.PaymentApplied, occupancyID, ""); serr != nil {
			logger.WithError(serr).Warn("applied but journal not updated")
		}
		report.Applied++
		observability.RecordReconcile("applied")
		logger.Info("payment reconciled")
		return
	}

	status := domain.PaymentNeedsReconciliation
	if !orchestrator.Retryable(err) || rec.Attempts+1 >= r.maxAttempts {
		status = domain.PaymentManual
	}
	if serr := r.journal.SetStatus(ctx, rec.Reference, status, "", err.Error()); serr != nil {
		logger.WithError(serr).Error("failed to update journal")
	}

	if status == domain.PaymentManual {
		report.Manual++
		observability.RecordReconcile("manual")
		logger.WithError(err).Error("payment needs manual reconciliation")
		return
	}
	report.Retry++
	observability.RecordReconcile("retry")
	logger.WithError(err).Warn("reconciliation attempt failed")
}
