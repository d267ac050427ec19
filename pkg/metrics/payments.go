package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks provider calls and how asynchronous confirmations
// were reconciled.
type PaymentMetrics struct {
	requests         *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	reconciliations  *prometheus.CounterVec
	checksumFailures *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "farmcart_provider_requests_total",
		Help: "Payment provider API calls by outcome.",
	}, []string{"provider", "operation", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "farmcart_provider_request_duration_seconds",
		Help:    "Latency of payment provider API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "farmcart_reconciliation_results_total",
		Help: "Provider notifications applied to the ledger.",
	}, []string{"provider", "source", "result"})
	checksumFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "farmcart_checksum_failures_total",
		Help: "Provider payloads rejected for a bad checksum.",
	}, []string{"provider"})
	reg.MustRegister(requests, latency, reconciliations, checksumFailures)
	return &PaymentMetrics{
		requests:         requests,
		latency:          latency,
		reconciliations:  reconciliations,
		checksumFailures: checksumFailures,
	}
}

// ObserveProviderCall records one outbound provider request.
func (m *PaymentMetrics) ObserveProviderCall(provider, operation string, duration time.Duration, err error) {
	if m == nil || m.requests == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation), outcome).Inc()
	m.latency.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncReconciliation counts a notification outcome (applied, noop, rejected).
func (m *PaymentMetrics) IncReconciliation(provider, source, result string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(provider), normalizeLabel(source), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) IncChecksumFailure(provider string) {
	if m == nil || m.checksumFailures == nil {
		return
	}
	m.checksumFailures.WithLabelValues(normalizeLabel(provider)).Inc()
}
