package feed

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/observability"
)

// Message kinds sent to feed subscribers.
const (
	KindEvent   = "event"   // a change made by this process
	KindRefresh = "refresh" // state changed elsewhere, reload it
)

// Message is one item of the feed.
type Message struct {
	Kind   string        `json:"kind"`
	Event  *domain.Event `json:"event,omitempty"`
	Source string        `json:"source,omitempty"` // table name for refresh messages
	At     time.Time     `json:"at"`
}

// DefaultClientBuffer is the number of messages queued per subscriber before
// further messages to it are dropped.
const DefaultClientBuffer = 64

// Hub fans messages out to in-process subscribers. A subscriber that falls
// behind loses messages instead of slowing down the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Message]struct{}
	buffer int
	logger *log.Entry
}

// NewHub creates a Hub. A non-positive buffer means DefaultClientBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Hub{
		subs:   make(map[chan Message]struct{}),
		buffer: buffer,
		logger: log.WithField("component", "feed-hub"),
	}
}

// Subscribe registers a subscriber. The returned cancel function unregisters
// it and closes the channel.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	observability.SetFeedClients(n)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			n := len(h.subs)
			close(ch)
			h.mu.Unlock()
			observability.SetFeedClients(n)
		})
	}
	return ch, cancel
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Emit implements Emitter.
func (h *Hub) Emit(_ context.Context, events ...domain.Event) {
	for i := range events {
		ev := events[i]
		h.broadcast(Message{Kind: KindEvent, Event: &ev, At: ev.At})
	}
}

// Refresh tells subscribers that source changed outside this process.
func (h *Hub) Refresh(source string) {
	h.broadcast(Message{Kind: KindRefresh, Source: source, At: time.Now().UTC()})
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.logger.WithField("kind", msg.Kind).Debug("subscriber behind, message dropped")
		}
	}
}
