// Command reconcile lists open payment journal entries, re-applies them once,
// or verifies the slot ledger against the contribution records.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/app"
	"github.com/martacalvinho/squares2/internal/config"
	"github.com/martacalvinho/squares2/internal/verification"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	flag.StringVar(&settings.PostgresDSN, "postgres-dsn", settings.PostgresDSN, "PostgreSQL connection string")
	flag.DurationVar(&settings.Reconcile.Grace, "grace", settings.Reconcile.Grace, "Skip pending entries younger than this")
	apply := flag.Bool("apply", false, "Re-apply open entries instead of listing them")
	verify := flag.Bool("verify", false, "Check slots against contribution records and exit")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	if _, err := config.SetupLogging(settings.Log); err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	if settings.PostgresDSN == "" {
		log.Fatal("--postgres-dsn is required")
	}
	if settings.Solana.RPCEndpoint == "" {
		// Re-applying never pays, so the processor is never called.
		settings.Solana.RPCEndpoint = "http://127.0.0.1:8899"
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.Build(ctx, settings)
	if err != nil {
		log.Fatalf("build: %v", err)
	}
	defer a.Close()

	if *verify {
		v := verification.New(a.Engine.Rules(), a.Stores.Slots, a.Stores.Waitlist, a.Stores.Contributions)
		report, err := v.Verify(ctx)
		if err != nil {
			log.Fatalf("verify: %v", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		if !report.OK() {
			os.Exit(2)
		}
		return
	}

	if !*apply {
		open, err := a.Reconciler.Open(ctx)
		if err != nil {
			log.Fatalf("list open entries: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REFERENCE\tPURPOSE\tSTATUS\tAMOUNT\tPAYER\tATTEMPTS\tCREATED")
		for _, rec := range open {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				rec.Reference, rec.Purpose, rec.Status, rec.Amount, rec.Payer, rec.Attempts,
				rec.CreatedAt.Format(time.RFC3339))
		}
		_ = w.Flush()
		return
	}

	report, err := a.Reconciler.RunOnce(ctx)
	if err != nil {
		log.Fatalf("reconcile: %v", err)
	}
	log.WithFields(log.Fields{
		"applied": report.Applied,
		"retry":   report.Retry,
		"manual":  report.Manual,
	}).Info("reconciliation finished")
	if report.Manual > 0 {
		os.Exit(2)
	}
}
