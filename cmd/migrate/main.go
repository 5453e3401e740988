// Command migrate applies the embedded postgres and ClickHouse migrations.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/config"
	"github.com/martacalvinho/squares2/internal/storage/migrations"
	pgstore "github.com/martacalvinho/squares2/internal/storage/postgres"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	flag.StringVar(&settings.PostgresDSN, "postgres-dsn", settings.PostgresDSN, "PostgreSQL connection string")
	flag.StringVar(&settings.ClickHouseDSN, "clickhouse-dsn", settings.ClickHouseDSN, "ClickHouse connection string (optional)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	if _, err := config.SetupLogging(settings.Log); err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	if settings.PostgresDSN == "" && settings.ClickHouseDSN == "" {
		log.Fatal("nothing to migrate: set --postgres-dsn and/or --clickhouse-dsn")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	failed := false
	if settings.PostgresDSN != "" {
		if err := migratePostgres(ctx, settings); err != nil {
			log.WithError(err).Error("postgres migration failed")
			failed = true
		}
	}
	if settings.ClickHouseDSN != "" {
		conn, results, err := migrations.ClickHouse(ctx, settings.ClickHouseDSN)
		if err != nil {
			log.WithError(err).Error("clickhouse migration failed")
			failed = true
		} else {
			conn.Close()
			log.WithField("files", len(results)).Info("clickhouse up to date")
		}
	}
	if failed {
		os.Exit(1)
	}
}

func migratePostgres(ctx context.Context, settings config.Settings) error {
	pool, err := pgstore.NewPool(ctx, settings.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	results, err := migrations.Postgres(ctx, pool)
	if err != nil {
		return err
	}
	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	if err := pgstore.NewSlotStore(pool).Bootstrap(ctx, settings.Boost.Slots); err != nil {
		return err
	}
	log.WithFields(log.Fields{"files": len(results), "skipped": skipped, "slots": settings.Boost.Slots}).Info("postgres up to date")
	return nil
}
