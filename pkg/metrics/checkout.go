package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records outcomes of checkout confirmation attempts.
type CheckoutMetrics struct {
	attempts           *prometheus.CounterVec
	verifyDuration     *prometheus.HistogramVec
	ledgerWriteFailure prometheus.Counter
	anomalies          prometheus.Counter
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_confirm_attempts_total",
		Help: "Checkout confirmation attempts by provider and outcome.",
	}, []string{"provider", "outcome"})
	verifyDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_verify_duration_seconds",
		Help:    "Duration of provider verification calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	ledgerWriteFailure := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_write_failures_total",
		Help: "Orders that could not be persisted after a successful capture.",
	})
	anomalies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_status_anomalies_total",
		Help: "Conflicting payment status updates flagged for manual review.",
	})
	reg.MustRegister(attempts, verifyDuration, ledgerWriteFailure, anomalies)
	return &CheckoutMetrics{
		attempts:           attempts,
		verifyDuration:     verifyDuration,
		ledgerWriteFailure: ledgerWriteFailure,
		anomalies:          anomalies,
	}
}

// ObserveAttempt counts one confirmation attempt for the provider/outcome pair.
func (c *CheckoutMetrics) ObserveAttempt(provider, outcome string) {
	if c == nil || c.attempts == nil {
		return
	}
	c.attempts.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// ObserveVerifyDuration records how long a provider verification took.
func (c *CheckoutMetrics) ObserveVerifyDuration(provider string, duration time.Duration) {
	if c == nil || c.verifyDuration == nil {
		return
	}
	c.verifyDuration.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

// IncLedgerWriteFailure counts a persistence failure after external success.
func (c *CheckoutMetrics) IncLedgerWriteFailure() {
	if c == nil || c.ledgerWriteFailure == nil {
		return
	}
	c.ledgerWriteFailure.Inc()
}

// IncAnomaly counts a conflicting-state payment update.
func (c *CheckoutMetrics) IncAnomaly() {
	if c == nil || c.anomalies == nil {
		return
	}
	c.anomalies.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
