package feed

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/storage"
)

// StoreSink appends emitted events to an event store so counters survive restarts.
type StoreSink struct {
	store   storage.EventStore
	timeout time.Duration
	logger  *log.Entry
}

// NewStoreSink creates a StoreSink.
func NewStoreSink(store storage.EventStore) *StoreSink {
	return &StoreSink{
		store:   store,
		timeout: 5 * time.Second,
		logger:  log.WithField("component", "feed-store"),
	}
}

// Emit implements Emitter.
func (s *StoreSink) Emit(ctx context.Context, events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.store.Append(ctx, events); err != nil {
		s.logger.WithError(err).WithField("events", len(events)).Warn("failed to append events")
	}
}
