package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/admission"
	"github.com/martacalvinho/squares2/internal/api"
	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/config"
	"github.com/martacalvinho/squares2/internal/exchange"
	"github.com/martacalvinho/squares2/internal/feed"
	"github.com/martacalvinho/squares2/internal/orchestrator"
	"github.com/martacalvinho/squares2/internal/payment"
	"github.com/martacalvinho/squares2/internal/reconcile"
	"github.com/martacalvinho/squares2/internal/solana"
	pgstore "github.com/martacalvinho/squares2/internal/storage/postgres"
	"github.com/martacalvinho/squares2/internal/sweeper"
)

// Component is a background job with a Start/Stop lifecycle.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// App is a fully wired boost service.
type App struct {
	Settings     config.Settings
	Stores       *Stores
	Engine       *boost.Engine
	Rates        *exchange.Cache
	Hub          *feed.Hub
	Sweeper      *sweeper.Sweeper
	Reconciler   *reconcile.Reconciler
	Orchestrator *orchestrator.Orchestrator
	Listener     *pgstore.Listener // nil with memory storage
	Payments     *payment.SolanaProcessor

	components []Component
	closers    []func() error
	logger     *log.Entry
}

// Build wires every component. Nothing runs until Start.
func Build(ctx context.Context, s config.Settings) (*App, error) {
	a := &App{Settings: s, logger: log.WithField("component", "app")}

	stores, err := OpenStores(ctx, s)
	if err != nil {
		return nil, err
	}
	a.Stores = stores
	a.closers = append(a.closers, func() error { stores.Close(); return nil })

	rules := s.Rules()
	a.Engine = boost.NewEngine(rules, stores.Slots)

	a.Rates = exchange.NewCache(exchange.CacheOptions{
		Fetcher:         exchange.NewCoinGecko(s.Exchange.URL, nil),
		TTL:             s.Exchange.TTL,
		RefreshInterval: s.Exchange.RefreshInterval,
		FallbackRate:    s.Exchange.FallbackRate,
	})

	var rdb *redis.Client
	if s.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: s.Redis.Addr, Password: s.Redis.Password, DB: s.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
	}

	a.Payments = a.buildProcessor(ctx)

	var guard payment.Guard = payment.NewMemoryGuard()
	if rdb != nil {
		rg, err := payment.NewRedisGuard(rdb, s.Redis.GuardSize, s.Redis.GuardTTL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create payment guard: %w", err)
		}
		guard = rg
	}

	gate := admission.New(admission.Options{
		Rules:          rules,
		Processor:      a.Payments,
		Guard:          guard,
		Journal:        stores.Journal,
		PaymentTimeout: s.Solana.PaymentTimeout,
	})

	a.Hub = feed.NewHub(0)
	emitters := feed.Multi{a.Hub, feed.NewStoreSink(stores.Events)}
	if rdb != nil {
		pub := feed.NewRedisPublisher(feed.PublisherConfig{Client: rdb, Channel: s.Redis.Channel})
		emitters = append(emitters, pub)
		a.components = append(a.components, pub)
	}

	a.Sweeper = sweeper.New(sweeper.Options{
		Engine:   a.Engine,
		Slots:    stores.Slots,
		Waitlist: stores.Waitlist,
		Promoter: stores.Promoter,
		Emitter:  emitters,
		Interval: s.Sweep.Interval,
	})

	var deadLetter *orchestrator.DeadLetter
	if s.DeadLetterFile != "" {
		f := config.RotatingFile(s.DeadLetterFile, s.Log.MaxSizeMB)
		deadLetter = orchestrator.NewDeadLetter(f)
		a.closers = append(a.closers, f.Close)
	}

	a.Orchestrator = orchestrator.New(orchestrator.Options{
		Engine:        a.Engine,
		Gate:          gate,
		Slots:         stores.Slots,
		Waitlist:      stores.Waitlist,
		Contributions: stores.Contributions,
		Journal:       stores.Journal,
		Events:        stores.Events,
		Emitter:       emitters,
		DeadLetter:    deadLetter,
		Kicker:        a.Sweeper,
	})

	a.Reconciler = reconcile.New(reconcile.Options{
		Journal:     stores.Journal,
		Applier:     a.Orchestrator,
		Interval:    s.Reconcile.Interval,
		Grace:       s.Reconcile.Grace,
		MaxAttempts: s.Reconcile.MaxAttempts,
		BatchSize:   s.Reconcile.BatchSize,
	})

	if stores.Pool != nil {
		a.Listener = pgstore.NewListener(stores.Pool)
	}

	a.components = append(a.components, a.Rates, a.Sweeper, a.Reconciler)
	return a, nil
}

func (a *App) buildProcessor(ctx context.Context) *payment.SolanaProcessor {
	s := a.Settings.Solana
	var opts []solana.ClientOption
	if s.RPCRate > 0 {
		opts = append(opts, solana.WithRateLimit(s.RPCRate, 1))
	}
	rpc := solana.NewHTTPClient(s.RPCEndpoint, opts...)

	var ws solana.WSClient
	if s.WSEndpoint != "" {
		client, err := solana.NewWSClient(ctx, s.WSEndpoint, nil)
		if err != nil {
			// Polling still confirms payments, only slower.
			a.logger.WithError(err).Warn("solana websocket unavailable, confirming by polling")
		} else {
			ws = client
			a.closers = append(a.closers, client.Close)
		}
	}

	return payment.NewSolanaProcessor(payment.SolanaOptions{
		RPC:       rpc,
		WS:        ws,
		Rates:     a.Rates,
		Recipient: s.Recipient,
		Slippage:  s.Slippage,
	})
}

// Handler returns the HTTP API.
func (a *App) Handler() (http.Handler, error) {
	limiter, err := api.NewRateLimiter(a.Settings.API.RequestsPerMinute, a.Settings.API.Burst, 0)
	if err != nil {
		return nil, err
	}
	return api.NewRouter(api.Options{
		Service: a.Orchestrator,
		Rates:   a.Rates,
		Feed:    feed.NewHandler(a.Hub, nil),
		Limiter: limiter,
		Health:  a.Health,
	}), nil
}

// Health reports whether storage and the Solana RPC node are reachable.
func (a *App) Health(ctx context.Context) error {
	if err := a.Stores.Health(ctx); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := a.Payments.Ping(ctx); err != nil {
		return fmt.Errorf("payments: %w", err)
	}
	return nil
}

// Start launches the background components and the change listener.
func (a *App) Start(ctx context.Context) error {
	for _, c := range a.components {
		if err := c.Start(ctx); err != nil {
			return err
		}
	}
	if a.Listener != nil {
		go func() {
			err := a.Listener.Listen(ctx, func(c pgstore.Change) { a.Hub.Refresh(c.Table) })
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Error("change listener stopped")
			}
		}()
	}
	return nil
}

// Stop stops the background components in reverse order.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	for i := len(a.components) - 1; i >= 0; i-- {
		if err := a.components[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases connections and files.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Debug("close failed")
		}
	}
	a.closers = nil
}
