package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martacalvinho/squares2/internal/boost"
	"github.com/martacalvinho/squares2/internal/domain"
	"github.com/martacalvinho/squares2/internal/exchange"
	"github.com/martacalvinho/squares2/internal/orchestrator"
	"github.com/martacalvinho/squares2/internal/payment"
)

type fakeService struct {
	submitted  []domain.Submission
	submitRes  *orchestrator.SubmitResult
	submitErr  error
	topUpArgs  []any
	topUpErr   error
	withdrawn  []string
	withdrawOK *domain.WaitlistEntry
	stateErr   error
	quoteMax   domain.Cents
}

func (f *fakeService) SubmitProject(_ context.Context, sub domain.Submission) (*orchestrator.SubmitResult, error) {
	f.submitted = append(f.submitted, sub)
	return f.submitRes, f.submitErr
}

func (f *fakeService) ContributeMore(_ context.Context, slot int, occupancyID, payer string, amount domain.Cents, proof string) (*orchestrator.TopUpResult, error) {
	f.topUpArgs = []any{slot, occupancyID, payer, amount, proof}
	if f.topUpErr != nil {
		return nil, f.topUpErr
	}
	return &orchestrator.TopUpResult{SlotNumber: slot, OccupancyID: occupancyID, PaymentReference: proof}, nil
}

func (f *fakeService) Withdraw(_ context.Context, entryID, wallet string) (*domain.WaitlistEntry, error) {
	f.withdrawn = append(f.withdrawn, entryID+"/"+wallet)
	if f.withdrawOK == nil {
		return nil, boost.ErrEntryNotFound
	}
	return f.withdrawOK, nil
}

func (f *fakeService) State(context.Context) (*orchestrator.State, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return &orchestrator.State{Capacity: 5, Slots: []orchestrator.SlotView{{SlotNumber: 1, OccupancyID: "occ-1"}}}, nil
}

func (f *fakeService) Quote(_ context.Context, amount domain.Cents, slot int) (time.Duration, domain.Cents, error) {
	if slot > 5 {
		return 0, 0, boost.ErrSlotNotFound
	}
	d := time.Duration(amount) * time.Hour / 500
	if slot > 0 {
		return d, f.quoteMax, nil
	}
	return d, 0, nil
}

func newTestServer(t *testing.T, svc *fakeService, limiter *RateLimiter) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(Options{
		Service: svc,
		Rates:   exchange.Static(100),
		Limiter: limiter,
		Metrics: http.NotFoundHandler(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSubmit_Boosted(t *testing.T) {
	svc := &fakeService{submitRes: &orchestrator.SubmitResult{
		Outcome: orchestrator.OutcomeBoosted, SlotNumber: 2, OccupancyID: "occ-2", PaymentReference: "sig-1",
	}}
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/v1/boost/submissions", map[string]any{
		"project":       map[string]string{"name": "Alpha", "logo": "https://a.io/l.png", "link": "a.io"},
		"wallet":        "wallet-1",
		"amount":        12.5,
		"payment_proof": "sig-1",
	})

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	got := decode[orchestrator.SubmitResult](t, resp)
	assert.Equal(t, "occ-2", got.OccupancyID)

	require.Len(t, svc.submitted, 1)
	assert.Equal(t, domain.Cents(1250), svc.submitted[0].Contribution)
	assert.Equal(t, "Alpha", svc.submitted[0].Project.Name)
	assert.Equal(t, "wallet-1", svc.submitted[0].WalletIdentity)
}

func TestSubmit_Waitlisted(t *testing.T) {
	svc := &fakeService{submitRes: &orchestrator.SubmitResult{Outcome: orchestrator.OutcomeWaitlisted, Position: 1}}
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/v1/boost/submissions", map[string]any{"wallet": "w", "amount": 5, "payment_proof": "p"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSubmit_RejectsUnknownFields(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/v1/boost/submissions", map[string]any{"wallet": "w", "surprise": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, svc.submitted)
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", boost.Invalid("project_name", "required"), http.StatusBadRequest, "invalid"},
		{"declined", &boost.PaymentError{Reason: "declined", Err: payment.ErrWrongPayer}, http.StatusPaymentRequired, "payment_failed"},
		{"timeout", &boost.PaymentError{Reason: "timeout", Err: boost.ErrPaymentTimeout}, http.StatusGatewayTimeout, "payment_timeout"},
		{"guard down", &payment.GuardError{Err: errors.New("redis down")}, http.StatusServiceUnavailable, "payment_unavailable"},
		{"capacity", fmt.Errorf("extend: %w", boost.ErrCapacityExceeded), http.StatusConflict, "capacity_exceeded"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeService{submitErr: tt.err}, nil)
			resp := postJSON(t, srv.URL+"/v1/boost/submissions", map[string]any{"wallet": "w", "amount": 5, "payment_proof": "p"})
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[errorResponse](t, resp).Code)
		})
	}
}

func TestSubmit_PersistenceErrorCarriesReference(t *testing.T) {
	svc := &fakeService{submitErr: &boost.PersistenceError{
		Op: "claim", PaymentReference: "sig-9", Payer: "w", Amount: 500, Err: errors.New("db down"),
	}}
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/v1/boost/submissions", map[string]any{"wallet": "w", "amount": 5, "payment_proof": "sig-9"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, "persistence", body.Code)
	assert.Equal(t, "sig-9", body.PaymentReference)
	assert.NotContains(t, body.Error, "db down")
}

func TestContribute(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/v1/boost/slots/3/contributions", map[string]any{
		"occupancy_id": "occ-3", "wallet": "w2", "amount": 2.5, "payment_proof": "sig-2",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{3, "occ-3", "w2", domain.Cents(250), "sig-2"}, svc.topUpArgs)

	bad := postJSON(t, srv.URL+"/v1/boost/slots/x/contributions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestOversizedAmountRejected(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, nil)

	resp := postJSON(t, srv.URL+"/v1/boost/submissions", map[string]any{"wallet": "w", "amount": 1e30, "payment_proof": "p"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, svc.submitted)

	resp = postJSON(t, srv.URL+"/v1/boost/slots/1/contributions", map[string]any{
		"occupancy_id": "occ-1", "wallet": "w", "amount": -1e30, "payment_proof": "p",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, svc.topUpArgs)

	r, err := http.Get(srv.URL + "/v1/boost/quote?amount=1e30")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestContribute_OccupantChanged(t *testing.T) {
	srv := newTestServer(t, &fakeService{topUpErr: boost.ErrOccupantChanged}, nil)

	resp := postJSON(t, srv.URL+"/v1/boost/slots/1/contributions", map[string]any{
		"occupancy_id": "old", "wallet": "w", "amount": 1, "payment_proof": "p",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "occupant_changed", decode[errorResponse](t, resp).Code)
}

func TestWithdraw(t *testing.T) {
	svc := &fakeService{withdrawOK: &domain.WaitlistEntry{ID: "e-1", PaymentReference: "sig", Contribution: 500}}
	srv := newTestServer(t, svc, nil)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/boost/waitlist/e-1?wallet=w1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"e-1/w1"}, svc.withdrawn)

	svc.withdrawOK = nil
	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/v1/boost/waitlist/e-2", nil)
	require.NoError(t, err)
	req.Header.Set("X-Wallet", "w2")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
	assert.Equal(t, "e-2/w2", svc.withdrawn[1])
}

func TestState(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	resp, err := http.Get(srv.URL + "/v1/boost/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[orchestrator.State](t, resp)
	assert.Equal(t, 5, st.Capacity)
	require.Len(t, st.Slots, 1)
}

func TestQuote(t *testing.T) {
	srv := newTestServer(t, &fakeService{quoteMax: 1500}, nil)

	resp, err := http.Get(srv.URL + "/v1/boost/quote?amount=10&slot=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	q := decode[quoteResponse](t, resp)
	assert.Equal(t, domain.Cents(1000), q.Amount)
	assert.Equal(t, int64(2*3600), q.DurationSeconds)
	assert.Equal(t, domain.Cents(1500), q.MaxTopUp)
	assert.Equal(t, float64(100), q.USDPerSOL)
	assert.Equal(t, payment.QuoteLamports(1000, 100), q.Lamports)

	for _, path := range []string{"/v1/boost/quote", "/v1/boost/quote?amount=-1", "/v1/boost/quote?amount=5&slot=abc"} {
		r, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, http.StatusBadRequest, r.StatusCode, path)
	}

	r, err := http.Get(srv.URL + "/v1/boost/quote?amount=5&slot=9")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

func TestRate(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, nil)

	resp, err := http.Get(srv.URL + "/v1/rate")
	require.NoError(t, err)
	defer resp.Body.Close()

	body := decode[map[string]any](t, resp)
	assert.Equal(t, float64(100), body["usd_per_sol"])
	assert.NotContains(t, body, "fetched_at")
}

func TestHealthz(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(NewRouter(Options{
		Service: &fakeService{},
		Rates:   exchange.Static(1),
		Health: func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("postgres down")
		},
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy.Store(false)
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRateLimiter_WriteEndpoints(t *testing.T) {
	limiter, err := NewRateLimiter(60, 2, 10)
	require.NoError(t, err)
	svc := &fakeService{submitRes: &orchestrator.SubmitResult{Outcome: orchestrator.OutcomeWaitlisted}}
	srv := newTestServer(t, svc, limiter)

	body := map[string]any{"wallet": "w", "amount": 5, "payment_proof": "p"}
	assert.Equal(t, http.StatusAccepted, postJSON(t, srv.URL+"/v1/boost/submissions", body).StatusCode)
	assert.Equal(t, http.StatusAccepted, postJSON(t, srv.URL+"/v1/boost/submissions", body).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, postJSON(t, srv.URL+"/v1/boost/submissions", body).StatusCode)

	// Reads are not limited.
	resp, err := http.Get(srv.URL + "/v1/boost/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimiter_PerClient(t *testing.T) {
	limiter, err := NewRateLimiter(60, 1, 10)
	require.NoError(t, err)

	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"))
}

func TestClientID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", clientID(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientID(r))

	r.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientID(r))
}
