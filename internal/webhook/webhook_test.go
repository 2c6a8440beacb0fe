package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func signSHA512Hex(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signSHA256Base64(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

const paystackCharge = `{
  "event": "charge.success",
  "data": {
    "id": 302961,
    "reference": "PSK_REF_1",
    "status": "success",
    "amount": 500000,
    "fees": 5000,
    "currency": "NGN",
    "channel": "dedicated_nuban",
    "authorization": {"receiver_bank_account_number": "9930000001", "receiver_bank": "Wema Bank"}
  }
}`

func TestSignatureValidation(t *testing.T) {
	body := []byte(paystackCharge)

	tests := []struct {
		name      string
		provider  Provider
		signature string
		want      bool
	}{
		{"paystack valid", NewPaystack("sk_test", discard), signSHA512Hex("sk_test", body), true},
		{"paystack uppercase hex", NewPaystack("sk_test", discard), signUpper(signSHA512Hex("sk_test", body)), true},
		{"paystack wrong secret", NewPaystack("sk_test", discard), signSHA512Hex("other", body), false},
		{"paystack missing header", NewPaystack("sk_test", discard), "", false},
		{"paystack secret not configured", NewPaystack("", discard), signSHA512Hex("", body), false},
		{"paystack garbage", NewPaystack("sk_test", discard), "not-hex", false},
		{"flutterwave valid", NewFlutterwave("hash", discard), signSHA256Base64("hash", body), true},
		{"flutterwave hex instead of base64", NewFlutterwave("hash", discard), signSHA512Hex("hash", body), false},
		{"monnify valid", NewMonnify("client", discard), signSHA512Hex("client", body), true},
		{"monnify wrong scheme", NewMonnify("client", discard), signSHA256Base64("client", body), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.provider.ValidateSignature(body, tt.signature))
		})
	}
}

func signUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func TestSignatureCoversRawBytes(t *testing.T) {
	p := NewPaystack("sk_test", discard)
	body := []byte(paystackCharge)
	sig := signSHA512Hex("sk_test", body)

	// same JSON, different whitespace
	reformatted := []byte(`{"event":"charge.success","data":{"id":302961,"reference":"PSK_REF_1","status":"success","amount":500000,"fees":5000,"currency":"NGN","channel":"dedicated_nuban","authorization":{"receiver_bank_account_number":"9930000001","receiver_bank":"Wema Bank"}}}`)
	require.False(t, p.ValidateSignature(reformatted, sig))
	require.True(t, p.ValidateSignature(body, sig))
}

func TestPaystackFundingNetOfFees(t *testing.T) {
	result, err := NewPaystack("sk", discard).Process([]byte(paystackCharge))
	require.NoError(t, err)

	assert.Equal(t, models.CategoryFunding, result.Category)
	assert.Equal(t, models.TransactionStatusSuccess, result.Status)
	assert.Equal(t, "PSK_REF_1", result.ProviderReference)
	assert.Equal(t, "302961", result.ProviderTransactionID)
	assert.Equal(t, "9930000001", result.AccountNumber)
	assert.Equal(t, int64(500000), result.Amount)
	assert.Equal(t, int64(5000), result.Fees)
	assert.Equal(t, int64(495000), result.NetAmount)
	assert.False(t, result.NeedsReview)
	assert.Equal(t, "charge.success", result.Metadata["event_type"])
	assert.Equal(t, []string{"PSK_REF_1", "302961"}, result.LookupIDs())
}

func TestPaystackAccountFromMetadata(t *testing.T) {
	payload := `{"event":"charge.success","data":{"id":1,"reference":"R","status":"success","amount":1000,
		"metadata":{"receiver_account_number":"0123456789"}}}`

	result, err := NewPaystack("sk", discard).Process([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", result.AccountNumber)
	assert.Equal(t, int64(1000), result.NetAmount)
}

func TestPaystackTransferEvents(t *testing.T) {
	tests := []struct {
		event  string
		status string
		want   models.TransactionStatus
	}{
		{"transfer.success", "success", models.TransactionStatusSuccess},
		{"transfer.failed", "failed", models.TransactionStatusFailed},
		{"transfer.reversed", "reversed", models.TransactionStatusReversed},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			payload := `{"event":"` + tt.event + `","data":{"id":9,"reference":"TRX-1","transfer_code":"TRF_abc","status":"` + tt.status + `","amount":40000}}`
			result, err := NewPaystack("sk", discard).Process([]byte(payload))
			require.NoError(t, err)

			assert.Equal(t, models.CategoryWithdrawal, result.Category)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, "TRX-1", result.Reference)
			assert.Equal(t, "TRF_abc", result.ProviderReference)
			assert.Equal(t, int64(40000), result.NetAmount)
		})
	}
}

func TestUnknownStatusDefaultsToPendingForReview(t *testing.T) {
	payload := `{"event":"charge.success","data":{"id":1,"reference":"R","status":"successish","amount":1000}}`

	result, err := NewPaystack("sk", discard).Process([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, result.Status)
	assert.True(t, result.NeedsReview)
	assert.Equal(t, "successish", result.RawStatus)
}

func TestValidatePayloadRejects(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		payload  string
		want     error
	}{
		{"malformed", NewPaystack("sk", discard), `{"event":`, ErrMalformedPayload},
		{"unknown paystack event", NewPaystack("sk", discard), `{"event":"subscription.create","data":{}}`, ErrUnsupportedEvent},
		{"paystack missing status", NewPaystack("sk", discard), `{"event":"charge.success","data":{"reference":"R","amount":100}}`, ErrMissingField},
		{"paystack zero amount", NewPaystack("sk", discard), `{"event":"charge.success","data":{"reference":"R","status":"success"}}`, ErrMissingField},
		{"unknown flutterwave event", NewFlutterwave("h", discard), `{"event":"subscription.cancelled","data":{}}`, ErrUnsupportedEvent},
		{"flutterwave transfer without reference", NewFlutterwave("h", discard), `{"event":"transfer.completed","data":{"id":1,"status":"SUCCESSFUL","amount":10}}`, ErrMissingField},
		{"unknown monnify event", NewMonnify("c", discard), `{"eventType":"SETTLEMENT","eventData":{}}`, ErrUnsupportedEvent},
		{"monnify missing transaction reference", NewMonnify("c", discard), `{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"paymentStatus":"PAID","amountPaid":10}}`, ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.provider.ValidatePayload([]byte(tt.payload))
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestFlutterwaveChargeDecimalAmounts(t *testing.T) {
	payload := `{
	  "event": "charge.completed",
	  "data": {
	    "id": 285959875,
	    "tx_ref": "Links-616626414629",
	    "flw_ref": "PeterEkene/FLW270177170",
	    "amount": 5000,
	    "charged_amount": 5000,
	    "app_fee": 37.5,
	    "vat": 2.81,
	    "currency": "NGN",
	    "status": "successful",
	    "payment_type": "bank_transfer",
	    "account_number": "7824822527"
	  }
	}`

	result, err := NewFlutterwave("h", discard).Process([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusSuccess, result.Status)
	assert.Equal(t, "PeterEkene/FLW270177170", result.ProviderReference)
	assert.Equal(t, "285959875", result.ProviderTransactionID)
	assert.Equal(t, []string{"Links-616626414629"}, result.SecondaryIDs)
	assert.Equal(t, "7824822527", result.AccountNumber)
	assert.Equal(t, int64(500000), result.Amount)
	assert.Equal(t, int64(3750), result.Fees)
	assert.Equal(t, int64(281), result.Taxes)
	assert.Equal(t, int64(495969), result.NetAmount)
}

func TestFlutterwaveTransferCompleted(t *testing.T) {
	payload := `{"event":"transfer.completed","data":{"id":190626,"reference":"TRX-9","status":"FAILED","amount":"400.00","fee":10.75,"complete_message":"DISBURSE FAILED: insufficient funds"}}`

	result, err := NewFlutterwave("h", discard).Process([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, models.CategoryWithdrawal, result.Category)
	assert.Equal(t, models.TransactionStatusFailed, result.Status)
	assert.Equal(t, "TRX-9", result.Reference)
	assert.Equal(t, "190626", result.ProviderReference)
	assert.Equal(t, int64(40000), result.Amount)
	assert.Equal(t, int64(1075), result.Fees)
	assert.Equal(t, "DISBURSE FAILED: insufficient funds", result.Metadata["reason"])
}

func TestMonnifySettlementAmountImpliesFee(t *testing.T) {
	payload := `{
	  "eventType": "SUCCESSFUL_TRANSACTION",
	  "eventData": {
	    "transactionReference": "MNFY|20|20260101|000123",
	    "paymentReference": "MNFY|PAY|000123",
	    "amountPaid": "5000.00",
	    "settlementAmount": "4950.00",
	    "paymentStatus": "PAID",
	    "currency": "NGN",
	    "destinationAccountInformation": {"accountNumber": "5000000001", "bankName": "Moniepoint"}
	  }
	}`

	result, err := NewMonnify("c", discard).Process([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, models.TransactionStatusSuccess, result.Status)
	assert.Equal(t, "MNFY|20|20260101|000123", result.ProviderReference)
	assert.Equal(t, []string{"MNFY|20|20260101|000123", "MNFY|PAY|000123"}, result.LookupIDs())
	assert.Equal(t, "5000000001", result.AccountNumber)
	assert.Equal(t, int64(500000), result.Amount)
	assert.Equal(t, int64(5000), result.Fees)
	assert.Equal(t, int64(495000), result.NetAmount)
}

func TestMonnifyDisbursementStatuses(t *testing.T) {
	tests := []struct {
		event  string
		status string
		want   models.TransactionStatus
	}{
		{"SUCCESSFUL_DISBURSEMENT", "SUCCESS", models.TransactionStatusSuccess},
		{"FAILED_DISBURSEMENT", "FAILED", models.TransactionStatusFailed},
		{"REVERSED_DISBURSEMENT", "REVERSED", models.TransactionStatusReversed},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			payload := `{"eventType":"` + tt.event + `","eventData":{"transactionReference":"MFDS1","reference":"TRX-2","status":"` + tt.status + `","amount":400,"fee":10}}`
			result, err := NewMonnify("c", discard).Process([]byte(payload))
			require.NoError(t, err)

			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, "TRX-2", result.Reference)
			assert.Equal(t, "MFDS1", result.ProviderReference)
			assert.Equal(t, int64(40000), result.Amount)
			assert.Equal(t, int64(1000), result.Fees)
		})
	}
}

func TestNetOf(t *testing.T) {
	net, err := netOf(500000, 5000, 0)
	require.NoError(t, err)
	require.Equal(t, int64(495000), net)

	_, err = netOf(100, 100, 0)
	require.ErrorIs(t, err, ErrValidation)

	_, err = netOf(100, -1, 0)
	require.ErrorIs(t, err, ErrValidation)
}

func TestRegistryNamesAreSorted(t *testing.T) {
	r := NewRegistry(NewPaystack("a", discard), NewMonnify("b", discard), NewFlutterwave("c", discard))

	require.Equal(t, []models.Provider{models.ProviderFlutterwave, models.ProviderMonnify, models.ProviderPaystack}, r.Names())

	p, ok := r.Get(models.ProviderMonnify)
	require.True(t, ok)
	require.Equal(t, MonnifySignatureHeader, p.SignatureHeader())

	_, ok = r.Get("stripe")
	require.False(t, ok)
}
