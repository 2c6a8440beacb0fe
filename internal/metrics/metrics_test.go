package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestWebhookEventCounts(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.WebhookEvent("paystack", OutcomeApplied)
	m.WebhookEvent("paystack", OutcomeApplied)
	m.WebhookEvent("paystack", OutcomeDuplicate)

	require.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("paystack", OutcomeApplied)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("paystack", OutcomeDuplicate)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.WebhookEvent("monnify", OutcomeError)
		m.SpendOutcome("withdrawal", "success")
		m.Refund("spend")
		m.NotifyFailure()
	})
}
