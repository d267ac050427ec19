package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts relay outcomes per event type and tracks the dead
// letter backlog. A nil receiver is a no-op.
type OutboxMetrics struct {
	published   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	deadLetters *prometheus.GaugeVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return nil
	}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmcart_outbox_published_total",
			Help: "Outbox events delivered to Pub/Sub.",
		}, []string{"event_type"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmcart_outbox_failures_total",
			Help: "Outbox publish failures by disposition (retry or dlq).",
		}, []string{"event_type", "disposition"}),
		deadLetters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmcart_outbox_dead_letters",
			Help: "Rows in outbox_dlq by error reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.published, m.failed, m.deadLetters)
	return m
}

func (m *OutboxMetrics) IncPublished(eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncRetry records a failure left on the row for the next poll.
func (m *OutboxMetrics) IncRetry(eventType string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType), "retry").Inc()
}

// IncDeadLettered records a row moved to outbox_dlq.
func (m *OutboxMetrics) IncDeadLettered(eventType, reason string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType), "dlq").Inc()
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Inc()
}

// SetDeadLetterBacklog seeds the backlog gauge from the table at startup.
func (m *OutboxMetrics) SetDeadLetterBacklog(reason string, n int64) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Set(float64(n))
}
