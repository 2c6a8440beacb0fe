package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook outcomes.
const (
	OutcomeApplied            = "applied"
	OutcomeRecorded           = "recorded"
	OutcomeDuplicate          = "duplicate"
	OutcomeUnknownAccount     = "unknown_account"
	OutcomeUnknownTransaction = "unknown_transaction"
	OutcomeIgnored            = "ignored"
	OutcomeInvalidSignature   = "invalid_signature"
	OutcomeInvalidPayload     = "invalid_payload"
	OutcomeError              = "error"
)

// Metrics is safe to use through a nil pointer, which records nothing.
type Metrics struct {
	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	spendOutcomes   *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	notifyFailures  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletrecon",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Webhook deliveries partitioned by provider and reconciliation outcome.",
			},
			[]string{"provider", "outcome"},
		),
		webhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "walletrecon",
				Subsystem: "webhook",
				Name:      "process_duration_seconds",
				Help:      "Time spent reconciling a normalized webhook.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		spendOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletrecon",
				Subsystem: "spend",
				Name:      "outcomes_total",
				Help:      "Outbound spends partitioned by category and resolved status.",
			},
			[]string{"category", "status"},
		),
		refunds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "walletrecon",
				Subsystem: "ledger",
				Name:      "refunds_total",
				Help:      "Wallet refunds issued after a failed outbound transaction.",
			},
			[]string{"flow"},
		),
		notifyFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "walletrecon",
				Subsystem: "notify",
				Name:      "failures_total",
				Help:      "Notifications that could not be handed to the sink.",
			},
		),
	}
}

func (m *Metrics) WebhookEvent(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) WebhookDuration(provider string, started time.Time) {
	if m == nil {
		return
	}
	m.webhookDuration.WithLabelValues(provider).Observe(time.Since(started).Seconds())
}

func (m *Metrics) SpendOutcome(category, status string) {
	if m == nil {
		return
	}
	m.spendOutcomes.WithLabelValues(category, status).Inc()
}

func (m *Metrics) Refund(flow string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(flow).Inc()
}

func (m *Metrics) NotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}
