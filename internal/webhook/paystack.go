package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cradoe/walletrecon/internal/models"
)

const PaystackSignatureHeader = "x-paystack-signature"

var paystackEvents = map[string]models.Category{
	"charge.success":    models.CategoryFunding,
	"transfer.success":  models.CategoryWithdrawal,
	"transfer.failed":   models.CategoryWithdrawal,
	"transfer.reversed": models.CategoryWithdrawal,
}

var paystackStatuses = statusTable{
	"success":    models.TransactionStatusSuccess,
	"failed":     models.TransactionStatusFailed,
	"abandoned":  models.TransactionStatusFailed,
	"reversed":   models.TransactionStatusReversed,
	"pending":    models.TransactionStatusPending,
	"ongoing":    models.TransactionStatusPending,
	"queued":     models.TransactionStatusPending,
	"processing": models.TransactionStatusProcessing,
}

type paystackPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID            json.Number `json:"id"`
		Reference     string      `json:"reference"`
		TransferCode  string      `json:"transfer_code"`
		Status        string      `json:"status"`
		Amount        int64       `json:"amount"`
		Fees          *int64      `json:"fees"`
		Currency      string      `json:"currency"`
		Channel       string      `json:"channel"`
		PaidAt        string      `json:"paid_at"`
		Reason        string      `json:"reason"`
		Authorization struct {
			ReceiverBankAccountNumber string `json:"receiver_bank_account_number"`
			ReceiverBank              string `json:"receiver_bank"`
			SenderName                string `json:"sender_name"`
		} `json:"authorization"`
		Customer struct {
			Email        string `json:"email"`
			CustomerCode string `json:"customer_code"`
		} `json:"customer"`
		// metadata is a string or an object depending on the integration
		Metadata json.RawMessage `json:"metadata"`
	} `json:"data"`
}

// Paystack amounts are already in kobo.
type Paystack struct {
	signer signer
}

func NewPaystack(secretKey string, logger *slog.Logger) *Paystack {
	return &Paystack{signer: hmacSHA512Hex(string(models.ProviderPaystack), secretKey, logger)}
}

func (p *Paystack) Name() models.Provider {
	return models.ProviderPaystack
}

func (p *Paystack) SignatureHeader() string {
	return PaystackSignatureHeader
}

func (p *Paystack) ValidateSignature(rawBody []byte, signature string) bool {
	return p.signer.verify(rawBody, signature)
}

func (p *Paystack) ValidatePayload(payload []byte) error {
	_, _, err := p.parse(payload)
	return err
}

func (p *Paystack) parse(payload []byte) (*paystackPayload, models.Category, error) {
	var in paystackPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	category, ok := paystackEvents[in.Event]
	if !ok {
		return nil, "", fmt.Errorf("%w: paystack %q", ErrUnsupportedEvent, in.Event)
	}

	switch {
	case in.Data.Status == "":
		return nil, "", fmt.Errorf("%w: data.status", ErrMissingField)
	case in.Data.Amount <= 0:
		return nil, "", fmt.Errorf("%w: data.amount", ErrMissingField)
	case category == models.CategoryFunding && in.Data.Reference == "":
		return nil, "", fmt.Errorf("%w: data.reference", ErrMissingField)
	case category == models.CategoryWithdrawal && in.Data.Reference == "":
		return nil, "", fmt.Errorf("%w: data.reference", ErrMissingField)
	}

	return &in, category, nil
}

func (p *Paystack) Process(payload []byte) (*models.WebhookProcessResult, error) {
	in, category, err := p.parse(payload)
	if err != nil {
		return nil, err
	}

	status, needsReview := paystackStatuses.resolve(in.Data.Status)

	var fees int64
	if in.Data.Fees != nil {
		fees = *in.Data.Fees
	}

	result := &models.WebhookProcessResult{
		Provider:              models.ProviderPaystack,
		Category:              category,
		EventType:             in.Event,
		ProviderTransactionID: in.Data.ID.String(),
		Status:                status,
		RawStatus:             in.Data.Status,
		Amount:                in.Data.Amount,
		Fees:                  fees,
		Currency:              currencyOr(in.Data.Currency),
		NeedsReview:           needsReview,
	}

	switch category {
	case models.CategoryFunding:
		// paystack generates the reference for dedicated account charges
		result.ProviderReference = in.Data.Reference
		result.AccountNumber = in.Data.Authorization.ReceiverBankAccountNumber
		if result.AccountNumber == "" {
			result.AccountNumber = metadataString(in.Data.Metadata, "receiver_account_number")
		}
		result.NetAmount, err = netOf(result.Amount, fees, 0)
		if err != nil {
			return nil, err
		}
	case models.CategoryWithdrawal:
		// transfers echo our reference back
		result.Reference = in.Data.Reference
		result.ProviderReference = in.Data.TransferCode
		if result.ProviderReference == "" {
			result.ProviderReference = result.ProviderTransactionID
		}
		result.NetAmount = result.Amount
	}

	result.Metadata = models.Metadata{
		"event_type":  in.Event,
		"amount":      result.Amount,
		"net_amount":  result.NetAmount,
		"fees":        fees,
		"currency":    result.Currency,
		"raw_status":  in.Data.Status,
		"channel":     in.Data.Channel,
		"paid_at":     in.Data.PaidAt,
		"sender_name": in.Data.Authorization.SenderName,
		"bank":        in.Data.Authorization.ReceiverBank,
		"customer":    in.Data.Customer.CustomerCode,
	}
	if in.Data.Reason != "" {
		result.Metadata["reason"] = in.Data.Reason
	}

	return result, nil
}

func metadataString(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
