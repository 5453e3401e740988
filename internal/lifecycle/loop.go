// Package lifecycle runs periodic background jobs with a Start/Stop lifecycle.
package lifecycle

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Loop calls a tick function on every interval and whenever Kick is called.
// Ticks never overlap.
type Loop struct {
	name     string
	interval time.Duration
	clock    clock.WithTicker
	tick     func(ctx context.Context)
	kick     chan struct{}
	logger   *log.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLoop creates a stopped loop. A nil clock means the real clock.
func NewLoop(name string, interval time.Duration, clk clock.WithTicker, tick func(ctx context.Context)) *Loop {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Loop{
		name:     name,
		interval: interval,
		clock:    clk,
		tick:     tick,
		kick:     make(chan struct{}, 1),
		logger:   log.WithField("component", name),
	}
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Start launches the loop. Calling Start on a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := l.clock.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C():
				l.tick(runCtx)
			case <-l.kick:
				l.tick(runCtx)
			}
		}
	}()

	l.logger.WithField("interval", l.interval).Info("started")
	return nil
}

// Kick requests a tick as soon as the current one (if any) finishes.
// Kicks arriving while one is already queued are merged.
func (l *Loop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Stop cancels the loop and waits for the running tick, bounded by ctx.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.logger.Info("stopped")
	return nil
}
