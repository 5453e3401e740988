// Package feed distributes boost change events to read-side consumers.
package feed

import (
	"context"
	"sync"

	"github.com/martacalvinho/squares2/internal/domain"
)

// Emitter receives boost events after the state change they describe is durable.
// Emit must not block on slow consumers.
type Emitter interface {
	Emit(ctx context.Context, events ...domain.Event)
}

// Nop discards events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(context.Context, ...domain.Event) {}

// Multi fans events out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	for _, e := range m {
		e.Emit(ctx, events...)
	}
}

// Recorder keeps every emitted event. Used by tests and by the one-shot tools.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(_ context.Context, events ...domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
