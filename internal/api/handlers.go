package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/orchestrator"
	"github.com/martacalvinho/squares2/internal/payment"
)

const maxBodyBytes = 16 << 10

type submitRequest struct {
	Project      domain.Project `json:"project"`
	Wallet       string         `json:"wallet"`
	Amount       float64        `json:"amount"` // USD
	PaymentProof string         `json:"payment_proof"`
}

type contributeRequest struct {
	OccupancyID  string  `json:"occupancy_id"`
	Wallet       string  `json:"wallet"`
	Amount       float64 `json:"amount"` // USD
	PaymentProof string  `json:"payment_proof"`
}

type quoteResponse struct {
	Amount          domain.Cents `json:"amount"`
	DurationSeconds int64        `json:"duration_seconds"`
	Lamports        uint64       `json:"lamports"`
	USDPerSOL       float64      `json:"usd_per_sol"`
	MaxTopUp        domain.Cents `json:"max_top_up,omitempty"`
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.SubmitProject(r.Context(), domain.Submission{
		Project:        req.Project,
		WalletIdentity: req.Wallet,
		Contribution:   amount,
		PaymentProof:   req.PaymentProof,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Outcome != orchestrator.OutcomeBoosted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *handler) contribute(w http.ResponseWriter, r *http.Request) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		h.writeError(w, r, boost.Invalid("slot", "must be a number"))
		return
	}

	var req contributeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.ContributeMore(r.Context(), slot, req.OccupancyID, req.Wallet,
		amount, req.PaymentProof)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		wallet = r.Header.Get("X-Wallet")
	}

	entry, err := h.svc.Withdraw(r.Context(), chi.URLParam(r, "id"), wallet)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                entry.ID,
		"payment_reference": entry.PaymentReference,
		"contribution":      entry.Contribution,
	})
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.State(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dollars, err := strconv.ParseFloat(q.Get("amount"), 64)
	if err != nil {
		h.writeError(w, r, boost.Invalid("amount", "must be a number"))
		return
	}
	amount, err := parseAmount(dollars)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if amount <= 0 {
		h.writeError(w, r, boost.Invalid("amount", "must be positive"))
		return
	}

	slot := 0
	if s := q.Get("slot"); s != "" {
		if slot, err = strconv.Atoi(s); err != nil {
			h.writeError(w, r, boost.Invalid("slot", "must be a number"))
			return
		}
	}

	d, maxTopUp, err := h.svc.Quote(r.Context(), amount, slot)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rate := h.rates.Rate(r.Context())
	writeJSON(w, http.StatusOK, quoteResponse{
		Amount:          amount,
		DurationSeconds: int64(d.Seconds()),
		Lamports:        payment.QuoteLamports(amount, rate.USDPerSOL),
		USDPerSOL:       rate.USDPerSOL,
		MaxTopUp:        maxTopUp,
	})
}

func (h *handler) rate(w http.ResponseWriter, r *http.Request) {
	q := h.rates.Rate(r.Context())
	resp := map[string]any{
		"usd_per_sol": q.USDPerSOL,
		"stale":       q.Stale,
	}
	if !q.FetchedAt.IsZero() {
		resp["fetched_at"] = q.FetchedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return boost.Invalid("body", "content type must be application/json")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return boost.Invalid("body", "%v", err)
	}
	return nil
}

// parseAmount converts a dollar amount from a request body or query.
func parseAmount(dollars float64) (domain.Cents, error) {
	amount, ok := domain.ParseDollars(dollars)
	if !ok {
		return 0, boost.Invalid("amount", "must be a finite amount up to %s", domain.MaxCents)
	}
	return amount, nil
}
