package domain

import "time"

// EventType identifies a boost state change.
type EventType string

const (
	EventClaimed    EventType = "claimed"
	EventExtended   EventType = "extended"
	EventVacated    EventType = "vacated"
	EventReranked   EventType = "reranked"
	EventWaitlisted EventType = "waitlisted"
	EventPromoted   EventType = "promoted"
	EventWithdrawn  EventType = "withdrawn"
)

// Event is a change notification used to refresh read-side views.
type Event struct {
	Type        EventType `json:"type"`
	SlotNumber  int       `json:"slot_number,omitempty"`
	OccupancyID string    `json:"occupancy_id,omitempty"`
	EntryID     string    `json:"entry_id,omitempty"`
	ProjectName string    `json:"project_name,omitempty"`
	Amount      Cents     `json:"amount,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	At          time.Time `json:"at"`
}

// Counters are the simple lifetime totals kept for the boost system.
type Counters struct {
	Boosts      int64 `json:"boosts"`
	TopUps      int64 `json:"top_ups"`
	Waitlisted  int64 `json:"waitlisted"`
	Promotions  int64 `json:"promotions"`
	Evictions   int64 `json:"evictions"`
	Withdrawals int64 `json:"withdrawals"`
	TotalCents  Cents `json:"total_cents"`
}

// Add folds one event into the counters.
func (c *Counters) Add(e Event) {
	c.AddN(e.Type, 1, e.Amount)
}

// AddN folds n events of type t carrying amount in total. Promotions do not
// add money: the payment was already counted when the entry was waitlisted.
func (c *Counters) AddN(t EventType, n int64, amount Cents) {
	switch t {
	case EventClaimed:
		c.Boosts += n
		c.TotalCents += amount
	case EventExtended:
		c.TopUps += n
		c.TotalCents += amount
	case EventWaitlisted:
		c.Waitlisted += n
		c.TotalCents += amount
	case EventPromoted:
		c.Promotions += n
	case EventVacated:
		c.Evictions += n
	case EventWithdrawn:
		c.Withdrawals += n
	}
}
