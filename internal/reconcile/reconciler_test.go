package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedApplier returns errors per reference.
type scriptedApplier struct {
	mu     sync.Mutex
	errs   map[string]error
	called []string
}

func (a *scriptedApplier) Reapply(_ context.Context, rec *domain.PaymentRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.called = append(a.called, rec.Reference)
	if err := a.errs[rec.Reference]; err != nil {
		return "", err
	}
	return "occ-" + rec.Reference, nil
}

func record(t *testing.T, j *memory.PaymentJournal, ref string, status domain.PaymentStatus, at time.Time) {
	t.Helper()
	require.NoError(t, j.Record(context.Background(), &domain.PaymentRecord{
		Reference: ref,
		Payer:     "payer",
		Amount:    domain.Dollars(5),
		Purpose:   domain.PurposeSubmission,
		Status:    status,
		CreatedAt: at,
	}))
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewFakeClock(t0.Add(10 * time.Minute))
	journal := memory.NewPaymentJournal()

	record(t, journal, "stuck", domain.PaymentPending, t0)
	record(t, journal, "in-flight", domain.PaymentPending, t0.Add(9*time.Minute))
	record(t, journal, "flaky", domain.PaymentPending, t0)
	record(t, journal, "gone", domain.PaymentPending, t0)
	record(t, journal, "done", domain.PaymentApplied, t0)

	applier := &scriptedApplier{errs: map[string]error{
		"flaky": errors.New("connection reset"),
		"gone":  &boost.PersistenceError{Op: "extend", Err: boost.ErrSlotEmpty},
	}}
	r := New(Options{Journal: journal, Applier: applier, Clock: clk, MaxAttempts: 3})

	report, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Retry)
	assert.Equal(t, 1, report.Manual)
	assert.ElementsMatch(t, []string{"stuck", "flaky", "gone"}, applier.called)

	stuck, err := journal.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentApplied, stuck.Status)
	assert.Equal(t, "occ-stuck", stuck.OccupancyID)

	gone, err := journal.Get(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentManual, gone.Status)

	flaky, err := journal.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentNeedsReconciliation, flaky.Status)
	assert.Equal(t, "connection reset", flaky.LastError)
}

func TestRunOnce_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewFakeClock(t0.Add(10 * time.Minute))
	journal := memory.NewPaymentJournal()
	record(t, journal, "flaky", domain.PaymentPending, t0)

	applier := &scriptedApplier{errs: map[string]error{"flaky": errors.New("connection reset")}}
	r := New(Options{Journal: journal, Applier: applier, Clock: clk, MaxAttempts: 3})

	for i := 0; i < 3; i++ {
		_, err := r.RunOnce(ctx)
		require.NoError(t, err)
	}

	rec, err := journal.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentManual, rec.Status)

	// Manual entries are left alone.
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, applier.called, 3)
}

func TestReconciler_StartRunsOnClock(t *testing.T) {
	clk := testclock.NewFakeClock(t0.Add(10 * time.Minute))
	journal := memory.NewPaymentJournal()
	record(t, journal, "stuck", domain.PaymentPending, t0)

	applier := &scriptedApplier{}
	r := New(Options{Journal: journal, Applier: applier, Clock: clk, Interval: time.Minute})
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	require.Eventually(t, clk.HasWaiters, time.Second, 5*time.Millisecond)
	clk.Step(time.Minute)

	require.Eventually(t, func() bool {
		rec, err := journal.Get(context.Background(), "stuck")
		return err == nil && rec.Status == domain.PaymentApplied
	}, time.Second, 5*time.Millisecond)
}
