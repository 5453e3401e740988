// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Lifecycle metrics
	SubmissionsTotal *prometheus.CounterVec
	TopUpsTotal      *prometheus.CounterVec
	WithdrawalsTotal prometheus.Counter
	ContributedCents prometheus.Counter

	// Payment metrics
	PaymentsTotal   *prometheus.CounterVec
	PaymentDuration prometheus.Histogram
	ExchangeRate    prometheus.Gauge

	// Sweep metrics
	SweepTicks      *prometheus.CounterVec
	SweepDuration   prometheus.Histogram
	Evictions       prometheus.Counter
	Promotions      prometheus.Counter
	ActiveSlots     prometheus.Gauge
	WaitlistLength  prometheus.Gauge
	LastSuccessTick prometheus.Gauge

	// Reconciliation metrics
	ReconcileBacklog  *prometheus.GaugeVec
	ReconcileOutcomes *prometheus.CounterVec
	DeadLetters       prometheus.Counter

	// Latency metrics
	RPCCallLatency  *prometheus.HistogramVec
	HTTPLatency     *prometheus.HistogramVec
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Feed metrics
	FeedClients prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "boost"
	}

	return &Metrics{
		// Lifecycle metrics
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "submissions_total",
			Help:      "Total number of submissions by outcome",
		}, []string{"outcome"}),
		TopUpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "top_ups_total",
			Help:      "Total number of top-ups by result",
		}, []string{"result"}),
		WithdrawalsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "withdrawals_total",
			Help:      "Total number of waitlist withdrawals",
		}),
		ContributedCents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "contributed_cents_total",
			Help:      "Total USD cents accepted",
		}),

		// Payment metrics
		PaymentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "payments_total",
			Help:      "Total number of payment attempts by result",
		}, []string{"result"}),
		PaymentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "confirmation_seconds",
			Help:      "Time to confirm a payment",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		ExchangeRate: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "sol_usd_rate",
			Help:      "Current SOL/USD exchange rate",
		}),

		// Sweep metrics
		SweepTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "ticks_total",
			Help:      "Total number of sweep ticks by status",
		}, []string{"status"}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "tick_duration_seconds",
			Help:      "Sweep tick duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "evictions_total",
			Help:      "Total number of expired occupants evicted",
		}),
		Promotions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "promotions_total",
			Help:      "Total number of waitlist entries promoted",
		}),
		ActiveSlots: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "active_slots",
			Help:      "Number of occupied slots after the last tick",
		}),
		WaitlistLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "waitlist_length",
			Help:      "Number of waitlist entries after the last tick",
		}),
		LastSuccessTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sweep_timestamp",
			Help:      "Unix timestamp of last successful sweep",
		}),

		// Reconciliation metrics
		ReconcileBacklog: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "journal_entries",
			Help:      "Payment journal entries by status",
		}, []string{"status"}),
		ReconcileOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "outcomes_total",
			Help:      "Total reconciliation attempts by outcome",
		}, []string{"outcome"}),
		DeadLetters: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "dead_letters_total",
			Help:      "Payments written to the dead-letter file",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Feed metrics
		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected feed clients",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordSubmission records a submission by outcome (boosted, waitlisted, rejected, failed).
func RecordSubmission(outcome string) {
	DefaultMetrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordTopUp records a top-up by result.
func RecordTopUp(result string) {
	DefaultMetrics.TopUpsTotal.WithLabelValues(result).Inc()
}

// RecordWithdrawal increments the withdrawal counter.
func RecordWithdrawal() {
	DefaultMetrics.WithdrawalsTotal.Inc()
}

// RecordContribution adds accepted cents.
func RecordContribution(cents int64) {
	if cents > 0 {
		DefaultMetrics.ContributedCents.Add(float64(cents))
	}
}

// RecordPayment records a payment attempt.
func RecordPayment(result string, seconds float64) {
	DefaultMetrics.PaymentsTotal.WithLabelValues(result).Inc()
	DefaultMetrics.PaymentDuration.Observe(seconds)
}

// UpdateExchangeRate sets the exchange rate gauge.
func UpdateExchangeRate(usdPerSOL float64) {
	DefaultMetrics.ExchangeRate.Set(usdPerSOL)
}

// RecordSweep records one sweep tick.
func RecordSweep(status string, seconds float64, evicted, promoted int) {
	DefaultMetrics.SweepTicks.WithLabelValues(status).Inc()
	DefaultMetrics.SweepDuration.Observe(seconds)
	DefaultMetrics.Evictions.Add(float64(evicted))
	DefaultMetrics.Promotions.Add(float64(promoted))
}

// UpdateOccupancy sets the slot and waitlist gauges.
func UpdateOccupancy(active, waiting int) {
	DefaultMetrics.ActiveSlots.Set(float64(active))
	DefaultMetrics.WaitlistLength.Set(float64(waiting))
}

// MarkSweepSuccess records the time of a successful sweep.
func MarkSweepSuccess(unix int64) {
	DefaultMetrics.LastSuccessTick.Set(float64(unix))
}

// UpdateJournalBacklog sets journal entry counts per status.
func UpdateJournalBacklog(counts map[string]int) {
	for status, n := range counts {
		DefaultMetrics.ReconcileBacklog.WithLabelValues(status).Set(float64(n))
	}
}

// RecordReconcile records one reconciliation outcome.
func RecordReconcile(outcome string) {
	DefaultMetrics.ReconcileOutcomes.WithLabelValues(outcome).Inc()
}

// RecordDeadLetter increments the dead-letter counter.
func RecordDeadLetter() {
	DefaultMetrics.DeadLetters.Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHTTP records one HTTP request.
func RecordHTTP(route, method, status string, seconds float64) {
	DefaultMetrics.HTTPLatency.WithLabelValues(route, method, status).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// SetFeedClients sets the connected feed client gauge.
func SetFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}
