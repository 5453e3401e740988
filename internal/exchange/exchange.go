// Package exchange provides the SOL/USD rate used to price payments.
package exchange

import (
	"context"
	"time"
)

// Quote is a SOL/USD rate and where it came from.
type Quote struct {
	USDPerSOL float64
	FetchedAt time.Time // zero when the configured fallback is used
	Stale     bool      // older than the cache TTL or never fetched
}

// Source returns the current exchange rate. It always returns a usable quote.
type Source interface {
	Rate(ctx context.Context) Quote
}

// Fetcher retrieves a fresh rate from an upstream provider.
type Fetcher interface {
	Fetch(ctx context.Context) (float64, error)
}

// Static is a Source with a fixed rate.
type Static float64

// Rate returns the fixed rate.
func (s Static) Rate(context.Context) Quote {
	return Quote{USDPerSOL: float64(s)}
}
