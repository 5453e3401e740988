package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/observability"
	"github.com/martacalvinho/squares2/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
// The log is append-only; counters are aggregated at query time.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append adds events to the log in one batch.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	err := s.append(ctx, events)
	observability.RecordDBQuery("clickhouse", "insert", time.Since(start).Seconds(), err)
	return err
}

func (s *EventStore) append(ctx context.Context, events []domain.Event) error {

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO boost_events (
			event_type, slot_number, occupancy_id, entry_id, project_name, amount_cents, end_time, at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			string(e.Type), uint8(e.SlotNumber), e.OccupancyID, e.EntryID,
			e.ProjectName, int64(e.Amount), e.EndTime.UTC(), e.At.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Counters returns lifetime totals derived from the log.
func (s *EventStore) Counters(ctx context.Context) (*domain.Counters, error) {
	start := time.Now()
	counters, err := s.counters(ctx)
	observability.RecordDBQuery("clickhouse", "select", time.Since(start).Seconds(), err)
	return counters, err
}

func (s *EventStore) counters(ctx context.Context) (*domain.Counters, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT event_type, count(), sum(amount_cents)
		FROM boost_events
		GROUP BY event_type
	`)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	counters := &domain.Counters{}
	for rows.Next() {
		var (
			eventType string
			n         uint64
			total     int64
		)
		if err := rows.Scan(&eventType, &n, &total); err != nil {
			return nil, fmt.Errorf("scan counters: %w", err)
		}
		counters.AddN(domain.EventType(eventType), int64(n), domain.Cents(total))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counters: %w", err)
	}
	return counters, nil
}
