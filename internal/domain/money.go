package domain

import (
	"fmt"
	"math"
)

// Cents is a USD amount expressed in whole cents.
type Cents int64

// Dollars builds a Cents value from a whole-dollar amount.
func Dollars(d int64) Cents {
	return Cents(d * 100)
}

// MaxCents bounds any amount converted from user input ($10 trillion).
const MaxCents Cents = 1_000_000_000_000_000

// CentsFromFloat converts a dollar amount (as entered by a user) to cents,
// rounding to the nearest cent. NaN and infinities map to zero; magnitudes
// beyond MaxCents are clamped.
func CentsFromFloat(dollars float64) Cents {
	if math.IsNaN(dollars) || math.IsInf(dollars, 0) {
		return 0
	}
	c := math.Round(dollars * 100)
	switch {
	case c > float64(MaxCents):
		return MaxCents
	case c < -float64(MaxCents):
		return -MaxCents
	}
	return Cents(c)
}

// ParseDollars is CentsFromFloat for untrusted input: it reports false
// instead of mapping or clamping NaN, infinities and out-of-range values.
func ParseDollars(dollars float64) (Cents, bool) {
	if math.IsNaN(dollars) || math.IsInf(dollars, 0) || math.Abs(dollars*100) > float64(MaxCents) {
		return 0, false
	}
	return Cents(math.Round(dollars * 100)), true
}

// Float returns the amount in dollars.
func (c Cents) Float() float64 {
	return float64(c) / 100
}

// String formats the amount as "$12.34".
func (c Cents) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}
