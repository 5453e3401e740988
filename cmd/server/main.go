// Command server runs the boost API together with the sweeper, the exchange
// rate refresher, the payment reconciler and the postgres change listener.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/app"
	"github.com/martacalvinho/squares2/internal/config"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	flag.StringVar(&settings.HTTPAddr, "addr", settings.HTTPAddr, "HTTP listen address")
	flag.StringVar(&settings.PostgresDSN, "postgres-dsn", settings.PostgresDSN, "PostgreSQL connection string")
	flag.StringVar(&settings.ClickHouseDSN, "clickhouse-dsn", settings.ClickHouseDSN, "ClickHouse connection string (optional event log)")
	flag.StringVar(&settings.Redis.Addr, "redis-addr", settings.Redis.Addr, "Redis address for the payment guard and event publishing (optional)")
	flag.BoolVar(&settings.UseMemory, "use-memory", settings.UseMemory, "Use in-memory storage instead of PostgreSQL")
	flag.StringVar(&settings.Solana.RPCEndpoint, "rpc-endpoint", settings.Solana.RPCEndpoint, "Solana RPC HTTP endpoint")
	flag.StringVar(&settings.Solana.WSEndpoint, "ws-endpoint", settings.Solana.WSEndpoint, "Solana WebSocket endpoint (optional)")
	flag.StringVar(&settings.Solana.Recipient, "recipient", settings.Solana.Recipient, "Wallet receiving contributions")
	flag.DurationVar(&settings.Sweep.Interval, "sweep-interval", settings.Sweep.Interval, "Sweeper tick interval")
	flag.StringVar(&settings.Log.Level, "log-level", settings.Log.Level, "Log level")
	flag.Parse()

	closer, err := config.SetupLogging(settings.Log)
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	defer closer.Close()

	if err := settings.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, settings); err != nil {
		log.WithError(err).Error("server stopped with error")
		closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, settings config.Settings) error {
	a, err := app.Build(ctx, settings)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := a.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       settings.API.ReadTimeout,
		WriteTimeout:      settings.API.WriteTimeout,
	}

	if err := a.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":   settings.HTTPAddr,
			"slots":  settings.Boost.Slots,
			"memory": settings.UseMemory,
		}).Info("boost server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			_ = a.Stop(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	return a.Stop(shutdownCtx)
}
