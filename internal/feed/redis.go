package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/domain"
)

// DefaultRedisChannel is the Pub/Sub channel events are published on.
const DefaultRedisChannel = "boost:events"

// PublisherConfig configures a RedisPublisher.
type PublisherConfig struct {
	Client  *redis.Client
	Channel string // defaults to DefaultRedisChannel
	Buffer  int    // queued events before drops, defaults to 1000
}

// RedisPublisher publishes events to Redis Pub/Sub for consumers outside the
// process. Emit only queues; a worker publishes in pipelined batches.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	queue   chan domain.Event
	logger  *log.Entry

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	dropped uint64
}

// NewRedisPublisher creates a stopped publisher.
func NewRedisPublisher(cfg PublisherConfig) *RedisPublisher {
	if cfg.Channel == "" {
		cfg.Channel = DefaultRedisChannel
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1000
	}
	return &RedisPublisher{
		client:  cfg.Client,
		channel: cfg.Channel,
		queue:   make(chan domain.Event, cfg.Buffer),
		logger:  log.WithField("component", "feed-redis"),
	}
}

// Emit implements Emitter. Events are dropped when the queue is full.
func (p *RedisPublisher) Emit(_ context.Context, events ...domain.Event) {
	for _, ev := range events {
		select {
		case p.queue <- ev:
		default:
			p.mu.Lock()
			p.dropped++
			p.mu.Unlock()
		}
	}
}

// Start launches the publishing worker.
func (p *RedisPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, p.done)
	p.logger.WithField("channel", p.channel).Info("redis event publisher started")
	return nil
}

// Stop flushes queued events and stops the worker, bounded by ctx.
func (p *RedisPublisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *RedisPublisher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	batch := make([]domain.Event, 0, 100)
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued.
			for {
				select {
				case ev := <-p.queue:
					batch = append(batch, ev)
				default:
					p.publish(batch)
					return
				}
			}
		case ev := <-p.queue:
			batch = append(batch[:0], ev)
		drain:
			for len(batch) < cap(batch) {
				select {
				case ev := <-p.queue:
					batch = append(batch, ev)
				default:
					break drain
				}
			}
			p.publish(batch)
			batch = batch[:0]
		}
	}
}

func (p *RedisPublisher) publish(events []domain.Event) {
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := p.client.Pipeline()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			p.logger.WithError(err).Error("failed to serialize event")
			continue
		}
		pipe.Publish(ctx, p.channel, string(data))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.WithError(err).WithField("events", len(events)).Warn("failed to publish events")
	}
}

// Dropped returns the number of events dropped on a full queue.
func (p *RedisPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
