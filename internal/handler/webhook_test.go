package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cradoe/walletrecon/internal/errHandler"
	"github.com/cradoe/walletrecon/internal/helper"
	"github.com/cradoe/walletrecon/internal/metrics"
	"github.com/cradoe/walletrecon/internal/mocks"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/reconcile"
	"github.com/cradoe/walletrecon/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const paystackCharge = `{"event":"charge.success","data":{"id":302961,"reference":"PSK_REF_1","status":"success","amount":500000,"fees":5000,"currency":"NGN","authorization":{"receiver_bank_account_number":"9930000001"}}}`

type webhookFixture struct {
	store     *mocks.Store
	escalator *mocks.Escalator
	notifier  *mocks.Notifier
	mailer    *mocks.MockMailer
	helper    *helper.HelperRepository
	registry  *prometheus.Registry
	wallet    *models.Wallet
	mux       *http.ServeMux
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	fx := &webhookFixture{
		store:     mocks.NewStore(),
		escalator: &mocks.Escalator{},
		notifier:  &mocks.Notifier{},
		mailer:    new(mocks.MockMailer),
		helper:    mocks.NewHelper(),
		registry:  prometheus.NewRegistry(),
	}
	fx.wallet = fx.store.SeedWallet("owner-1", 0)
	fx.store.SeedVirtualAccount(fx.wallet, "9930000001", models.ProviderPaystack, true)

	m := metrics.New(fx.registry)
	dispatcher := reconcile.NewDefaultDispatcher(reconcile.Dependencies{
		DB:        fx.store,
		Notifier:  fx.notifier,
		Escalator: fx.escalator,
		Helper:    fx.helper,
		Logger:    mocks.Logger,
		Metrics:   m,
	})

	h := NewWebhookHandler(&WebhookHandler{
		Registry: webhook.NewRegistry(
			webhook.NewPaystack(mocks.PaystackSecret, mocks.Logger),
			webhook.NewFlutterwave(mocks.FlutterwaveSecret, mocks.Logger),
			webhook.NewMonnify(mocks.MonnifySecret, mocks.Logger),
		),
		Reconciler: dispatcher,
		Metrics:    m,
		Logger:     mocks.Logger,
		ErrHandler: errHandler.New("ops@example.org", fx.mailer, mocks.Logger, fx.helper),
	})

	fx.mux = http.NewServeMux()
	fx.mux.HandleFunc("POST /webhooks/{provider}", h.HandleWebhook)
	return fx
}

func (fx *webhookFixture) deliver(t *testing.T, provider, header, signature string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(header, signature)
	}
	rr := httptest.NewRecorder()
	fx.mux.ServeHTTP(rr, req)
	fx.helper.Wait()
	return rr
}

// webhookEvents reads walletrecon_webhook_events_total for one provider and outcome.
func (fx *webhookFixture) webhookEvents(t *testing.T, provider, outcome string) float64 {
	t.Helper()

	families, err := fx.registry.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != "walletrecon_webhook_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["provider"] == provider && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func assertAcknowledged(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()

	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status  int    `json:"status"`
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, http.StatusOK, body.Status)
	assert.True(t, body.Success)
	assert.Equal(t, "Webhook received", body.Message)
}

func TestWebhookCreditsWallet(t *testing.T) {
	fx := newWebhookFixture(t)
	body := []byte(paystackCharge)

	rr := fx.deliver(t, "paystack", "x-paystack-signature", sign(mocks.PaystackSecret, body), body)

	assertAcknowledged(t, rr)
	assert.Equal(t, int64(495000), fx.store.Balance(fx.wallet.ID))
	assert.Equal(t, 1.0, fx.webhookEvents(t, "paystack", metrics.OutcomeApplied))
	assert.Len(t, fx.notifier.Events(), 1)
}

func TestWebhookReplayCreditsOnce(t *testing.T) {
	fx := newWebhookFixture(t)
	body := []byte(paystackCharge)
	sig := sign(mocks.PaystackSecret, body)

	for range 3 {
		assertAcknowledged(t, fx.deliver(t, "paystack", "x-paystack-signature", sig, body))
	}

	assert.Equal(t, int64(495000), fx.store.Balance(fx.wallet.ID))
	assert.Len(t, fx.store.Transactions(), 1)
	assert.Equal(t, 2.0, fx.webhookEvents(t, "paystack", metrics.OutcomeDuplicate))
}

func TestWebhookBadSignatureIsAcknowledgedButIgnored(t *testing.T) {
	fx := newWebhookFixture(t)
	body := []byte(paystackCharge)

	tests := []struct {
		name      string
		header    string
		signature string
	}{
		{"wrong secret", "x-paystack-signature", sign("not-the-secret", body)},
		{"missing header", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertAcknowledged(t, fx.deliver(t, "paystack", tt.header, tt.signature, body))
		})
	}

	assert.Zero(t, fx.store.Balance(fx.wallet.ID))
	assert.Empty(t, fx.store.Transactions())
	assert.Equal(t, 2.0, fx.webhookEvents(t, "paystack", metrics.OutcomeInvalidSignature))
}

func TestWebhookInvalidPayloadIsAcknowledged(t *testing.T) {
	fx := newWebhookFixture(t)
	body := []byte(`{"event":"charge.success","data":{"id":1,"status":"success","amount":0}}`)

	rr := fx.deliver(t, "paystack", "x-paystack-signature", sign(mocks.PaystackSecret, body), body)

	assertAcknowledged(t, rr)
	assert.Empty(t, fx.store.Transactions())
	assert.Equal(t, 1.0, fx.webhookEvents(t, "paystack", metrics.OutcomeInvalidPayload))
}

func TestWebhookUnknownAccountIsEscalated(t *testing.T) {
	fx := newWebhookFixture(t)
	body := []byte(`{"event":"charge.success","data":{"id":7,"reference":"PSK_REF_7","status":"success","amount":1000,"authorization":{"receiver_bank_account_number":"0000000000"}}}`)

	rr := fx.deliver(t, "paystack", "x-paystack-signature", sign(mocks.PaystackSecret, body), body)

	assertAcknowledged(t, rr)
	assert.Zero(t, fx.store.Balance(fx.wallet.ID))
	assert.Len(t, fx.escalator.Reviews(), 1)
	assert.Equal(t, 1.0, fx.webhookEvents(t, "paystack", metrics.OutcomeUnknownAccount))
}

func TestWebhookStorageFailureIsReported(t *testing.T) {
	fx := newWebhookFixture(t)
	fx.store.FailOn("Transaction.Insert", assert.AnError)
	fx.mailer.On("Send", "ops@example.org", mock.Anything, []string{"error-notification.tmpl"}).Return(nil).Once()

	body := []byte(paystackCharge)
	rr := fx.deliver(t, "paystack", "x-paystack-signature", sign(mocks.PaystackSecret, body), body)

	assertAcknowledged(t, rr)
	assert.Zero(t, fx.store.Balance(fx.wallet.ID))
	fx.mailer.AssertExpectations(t)
}

func TestWebhookUnknownProvider(t *testing.T) {
	fx := newWebhookFixture(t)

	rr := fx.deliver(t, "stripe", "", "", []byte(`{}`))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
