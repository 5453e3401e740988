package exchange

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/martacalvinho/squares2/internal/lifecycle"
	"github.com/martacalvinho/squares2/internal/observability"
)

// Defaults.
const (
	DefaultTTL             = 5 * time.Minute
	DefaultRefreshInterval = time.Minute
	DefaultFallbackRate    = 100.0
)

// CacheOptions configures Cache.
type CacheOptions struct {
	Fetcher         Fetcher
	TTL             time.Duration
	RefreshInterval time.Duration
	FallbackRate    float64 // used until the first successful fetch
	Clock           clock.WithTicker
}

// Cache is a Source that keeps the last good rate from a Fetcher.
// Reads past the TTL trigger a fetch; a failed fetch serves the last known
// rate, or the fallback if nothing was ever fetched.
type Cache struct {
	fetcher  Fetcher
	ttl      time.Duration
	fallback float64
	clock    clock.WithTicker
	logger   *log.Entry
	loop     *lifecycle.Loop
	group    singleflight.Group

	mu        sync.RWMutex
	rate      float64
	fetchedAt time.Time
}

// NewCache creates a rate cache.
func NewCache(opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.FallbackRate <= 0 {
		opts.FallbackRate = DefaultFallbackRate
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	c := &Cache{
		fetcher:  opts.Fetcher,
		ttl:      opts.TTL,
		fallback: opts.FallbackRate,
		clock:    opts.Clock,
		logger:   log.WithField("component", "exchange"),
	}
	c.loop = lifecycle.NewLoop("exchange_refresher", opts.RefreshInterval, opts.Clock, func(ctx context.Context) {
		_ = c.Refresh(ctx)
	})
	return c
}

// Rate returns the cached rate, refreshing it first when older than the TTL.
func (c *Cache) Rate(ctx context.Context) Quote {
	if q := c.current(); !q.Stale {
		return q
	}
	_ = c.Refresh(ctx)
	return c.current()
}

// Refresh fetches a new rate. Concurrent callers share one upstream request.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("rate", func() (interface{}, error) {
		rate, err := c.fetcher.Fetch(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("exchange rate fetch failed, keeping last known rate")
			return nil, err
		}

		c.mu.Lock()
		c.rate = rate
		c.fetchedAt = c.clock.Now()
		c.mu.Unlock()

		observability.UpdateExchangeRate(rate)
		c.logger.WithField("usd_per_sol", rate).Debug("exchange rate refreshed")
		return rate, nil
	})
	return err
}

func (c *Cache) current() Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.fetchedAt.IsZero() {
		return Quote{USDPerSOL: c.fallback, Stale: true}
	}
	return Quote{
		USDPerSOL: c.rate,
		FetchedAt: c.fetchedAt,
		Stale:     c.clock.Since(c.fetchedAt) > c.ttl,
	}
}

// Start fetches once and begins the background refresh.
func (c *Cache) Start(ctx context.Context) error {
	_ = c.Refresh(ctx)
	return c.loop.Start(ctx)
}

// Stop ends the background refresh.
func (c *Cache) Stop(ctx context.Context) error {
	return c.loop.Stop(ctx)
}

// Verify interface compliance at compile time.
var (
	_ Source = (*Cache)(nil)
	_ Source = Static(0)
)
