package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSubmission(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.SubmissionsTotal.WithLabelValues("boosted"))
	RecordSubmission("boosted")
	RecordSubmission("boosted")
	after := testutil.ToFloat64(DefaultMetrics.SubmissionsTotal.WithLabelValues("boosted"))
	assert.Equal(t, before+2, after)
}

func TestRecordContribution_IgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.ContributedCents)
	RecordContribution(0)
	RecordContribution(-500)
	RecordContribution(1500)
	assert.Equal(t, before+1500, testutil.ToFloat64(DefaultMetrics.ContributedCents))
}

func TestRecordSweep(t *testing.T) {
	evictions := testutil.ToFloat64(DefaultMetrics.Evictions)
	promotions := testutil.ToFloat64(DefaultMetrics.Promotions)

	RecordSweep("ok", 0.01, 2, 1)

	assert.Equal(t, evictions+2, testutil.ToFloat64(DefaultMetrics.Evictions))
	assert.Equal(t, promotions+1, testutil.ToFloat64(DefaultMetrics.Promotions))
}

func TestGauges(t *testing.T) {
	UpdateOccupancy(3, 7)
	assert.Equal(t, 3.0, testutil.ToFloat64(DefaultMetrics.ActiveSlots))
	assert.Equal(t, 7.0, testutil.ToFloat64(DefaultMetrics.WaitlistLength))

	UpdateJournalBacklog(map[string]int{"needs_reconciliation": 4, "manual": 1})
	assert.Equal(t, 4.0, testutil.ToFloat64(DefaultMetrics.ReconcileBacklog.WithLabelValues("needs_reconciliation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(DefaultMetrics.ReconcileBacklog.WithLabelValues("manual")))

	SetFeedClients(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(DefaultMetrics.FeedClients))
}

func TestRecordDBQuery_CountsErrors(t *testing.T) {
	errs := DefaultMetrics.DBQueryErrors.WithLabelValues("postgres", "select")
	before := testutil.ToFloat64(errs)

	RecordDBQuery("postgres", "select", 0.002, nil)
	RecordDBQuery("postgres", "select", 0.002, errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(errs))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	RecordWithdrawal()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "withdrawals_total"))
}
