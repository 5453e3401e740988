package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ChangeChannel is the NOTIFY channel raised by the boost_slots and
// boost_waitlist triggers.
const ChangeChannel = "boost_changes"

// Change is the payload of a boost_changes notification.
type Change struct {
	Table string `json:"table"`
	Op    string `json:"op"`
}

// Listener relays boost_changes notifications to a callback. It holds one
// pool connection for as long as Listen runs and reconnects on failure.
type Listener struct {
	pool    *Pool
	backoff time.Duration
	logger  *log.Entry
}

// NewListener creates a new Listener.
func NewListener(pool *Pool) *Listener {
	return &Listener{
		pool:    pool,
		backoff: 2 * time.Second,
		logger:  log.WithField("component", "pg-listener"),
	}
}

// Listen blocks until ctx is cancelled, calling fn for every notification.
func (l *Listener) Listen(ctx context.Context, fn func(Change)) error {
	for {
		err := l.listenOnce(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.WithError(err).Warn("listener disconnected, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context, fn func(Change)) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", ChangeChannel, err)
	}
	l.logger.Debug("listening for changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				// Leave the connection clean for the pool.
				_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			}
			return err
		}

		var change Change
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			l.logger.WithError(err).WithField("payload", n.Payload).Warn("bad notification payload")
			continue
		}
		fn(change)
	}
}
