package payment

import (
	"context"
	"sync"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
)

// FakeProcessor accepts every payment after an optional delay.
// It backs local development and tests.
type FakeProcessor struct {
	Delay time.Duration
	Err   error // returned instead of a receipt when set

	mu    sync.Mutex
	calls []Request
}

// Pay records the request and settles it.
func (f *FakeProcessor) Pay(ctx context.Context, req Request) (*domain.Receipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	delay, err := f.Delay, f.Err
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err != nil {
		return nil, err
	}

	return &domain.Receipt{
		Reference:   req.Proof,
		Rate:        1,
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

// Calls returns the requests seen so far.
func (f *FakeProcessor) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]Request, len(f.calls))
	copy(result, f.calls)
	return result
}

// SetErr changes the error returned by later calls.
func (f *FakeProcessor) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Verify interface compliance at compile time.
var _ Processor = (*FakeProcessor)(nil)
