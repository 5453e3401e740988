// Package boost holds the pricing rules and error taxonomy of the boost engine.
package boost

import (
	"fmt"
	"time"

	"github.com/martacalvinho/squares2/internal/domain"
)

// Rules are the tunable constants of the boost system.
type Rules struct {
	Slots           int           // number of display slots
	MinContribution domain.Cents  // smallest accepted payment
	MaxDuration     time.Duration // longest total occupancy
	CentsPerHour    domain.Cents  // price of one hour of display
}

// DefaultRules returns the production rules: 5 slots, $5 minimum, $5 per hour, 48h cap.
func DefaultRules() Rules {
	return Rules{
		Slots:           5,
		MinContribution: domain.Dollars(5),
		MaxDuration:     48 * time.Hour,
		CentsPerHour:    domain.Dollars(5),
	}
}

// Validate checks the rules are usable.
func (r Rules) Validate() error {
	switch {
	case r.Slots <= 0:
		return fmt.Errorf("boost rules: slots must be positive, got %d", r.Slots)
	case r.MinContribution <= 0:
		return fmt.Errorf("boost rules: min contribution must be positive, got %s", r.MinContribution)
	case r.CentsPerHour <= 0:
		return fmt.Errorf("boost rules: price per hour must be positive, got %s", r.CentsPerHour)
	case r.MaxDuration < time.Minute:
		return fmt.Errorf("boost rules: max duration too small: %s", r.MaxDuration)
	}
	return nil
}

// DurationFor converts a contribution to display time, rounded to the nearest
// minute and capped at MaxDuration. Non-positive amounts buy nothing.
func (r Rules) DurationFor(amount domain.Cents) (hours, minutes int) {
	d := r.Duration(amount)
	total := int(d / time.Minute)
	return total / 60, total % 60
}

// Duration is DurationFor as a time.Duration.
func (r Rules) Duration(amount domain.Cents) time.Duration {
	if amount <= 0 {
		return 0
	}

	maxMinutes := int64(r.MaxDuration / time.Minute)
	perHour := int64(r.CentsPerHour)

	// round half up: (amount*60 + perHour/2) / perHour, done with doubled values
	// to keep odd prices exact. Guard the multiplication before it can overflow.
	c := int64(amount)
	if c > maxMinutes*perHour {
		return time.Duration(maxMinutes) * time.Minute
	}
	minutes := (c*120 + perHour) / (2 * perHour)
	if minutes > maxMinutes {
		minutes = maxMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// MaxTopUp is the largest top-up that still fits an occupancy that has
// already booked the given duration.
func (r Rules) MaxTopUp(booked time.Duration) domain.Cents {
	left := r.MaxDuration - booked
	if left <= 0 {
		return 0
	}
	return domain.Cents(int64(left) * int64(r.CentsPerHour) / int64(time.Hour))
}

// CentsFor is the price of the given display time.
func (r Rules) CentsFor(d time.Duration) domain.Cents {
	if d <= 0 {
		return 0
	}
	return domain.Cents(int64(d) * int64(r.CentsPerHour) / int64(time.Hour))
}
