// Package api exposes the boost lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/exchange"
	"github.com/martacalvinho/squares2/internal/observability"
	"github.com/martacalvinho/squares2/internal/orchestrator"
)

// Service is the part of the orchestrator the API calls.
type Service interface {
	SubmitProject(ctx context.Context, sub domain.Submission) (*orchestrator.SubmitResult, error)
	ContributeMore(ctx context.Context, slotNumber int, occupancyID, payer string, amount domain.Cents, proof string) (*orchestrator.TopUpResult, error)
	Withdraw(ctx context.Context, entryID, wallet string) (*domain.WaitlistEntry, error)
	State(ctx context.Context) (*orchestrator.State, error)
	Quote(ctx context.Context, amount domain.Cents, slotNumber int) (time.Duration, domain.Cents, error)
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// Options for creating the router.
type Options struct {
	// Required
	Service Service
	Rates   exchange.Source

	// Optional
	Feed    http.Handler                    // WebSocket feed, 404 when nil
	Limiter *RateLimiter                    // per-client limit on write endpoints
	Health  func(ctx context.Context) error // readiness check for /healthz
	Metrics http.Handler                    // defaults to observability.Handler()
}

type handler struct {
	svc    Service
	rates  exchange.Source
	logger *log.Entry
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	h := &handler{
		svc:    opts.Service,
		rates:  opts.Rates,
		logger: log.WithField("component", "api"),
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Handler()
	}

	r := chi.NewRouter()
	r.Use(recoverer(h.logger))
	r.Use(instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Health(ctx); err != nil {
				h.logger.WithError(err).Warn("health check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", opts.Metrics)
	r.Get("/v1/rate", h.rate)

	r.Route("/v1/boost", func(br chi.Router) {
		br.Get("/state", h.state)
		br.Get("/quote", h.quote)
		if opts.Feed != nil {
			br.Handle("/feed", opts.Feed)
		}

		br.Group(func(wr chi.Router) {
			if opts.Limiter != nil {
				wr.Use(opts.Limiter.Middleware)
			}
			wr.Post("/submissions", h.submit)
			wr.Post("/slots/{slot}/contributions", h.contribute)
			wr.Delete("/waitlist/{id}", h.withdraw)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
