// Command sweep runs one eviction, rerank and promotion pass against the
// configured store and prints what changed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/app"
	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/config"
	"github.com/martacalvinho/squares2/internal/feed"
	"github.com/martacalvinho/squares2/internal/sweeper"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	flag.StringVar(&settings.PostgresDSN, "postgres-dsn", settings.PostgresDSN, "PostgreSQL connection string")
	timeout := flag.Duration("timeout", time.Minute, "Overall timeout")
	flag.Parse()

	if _, err := config.SetupLogging(settings.Log); err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	if settings.PostgresDSN == "" {
		log.Fatal("--postgres-dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	stores, err := app.OpenStores(ctx, settings)
	if err != nil {
		log.Fatalf("open stores: %v", err)
	}
	defer stores.Close()

	events := &feed.Recorder{}
	sw := sweeper.New(sweeper.Options{
		Engine:   boost.NewEngine(settings.Rules(), stores.Slots),
		Slots:    stores.Slots,
		Waitlist: stores.Waitlist,
		Promoter: stores.Promoter,
		Emitter:  feed.Multi{events, feed.NewStoreSink(stores.Events)},
	})

	res, err := sw.Tick(ctx)
	if err != nil {
		log.Fatalf("sweep: %v", err)
	}

	log.WithFields(log.Fields{
		"evicted":  len(res.Evicted),
		"moved":    len(res.Moves),
		"promoted": len(res.Promoted),
		"failures": res.Failures,
	}).Info("sweep finished")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(events.Events())

	if res.Failures > 0 {
		os.Exit(2)
	}
}
