package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/shopspring/decimal"
)

const MonnifySignatureHeader = "monnify-signature"

var monnifyEvents = map[string]models.Category{
	"SUCCESSFUL_TRANSACTION":  models.CategoryFunding,
	"SUCCESSFUL_DISBURSEMENT": models.CategoryWithdrawal,
	"FAILED_DISBURSEMENT":     models.CategoryWithdrawal,
	"REVERSED_DISBURSEMENT":   models.CategoryWithdrawal,
}

var monnifyStatuses = statusTable{
	"paid":           models.TransactionStatusSuccess,
	"overpaid":       models.TransactionStatusSuccess,
	"partially_paid": models.TransactionStatusSuccess,
	"success":        models.TransactionStatusSuccess,
	"pending":        models.TransactionStatusPending,
	"failed":         models.TransactionStatusFailed,
	"expired":        models.TransactionStatusFailed,
	"cancelled":      models.TransactionStatusFailed,
	"reversed":       models.TransactionStatusReversed,
}

type monnifyPayload struct {
	EventType string `json:"eventType"`
	EventData struct {
		TransactionReference string           `json:"transactionReference"`
		PaymentReference     string           `json:"paymentReference"`
		Reference            string           `json:"reference"`
		PaymentStatus        string           `json:"paymentStatus"`
		Status               string           `json:"status"`
		AmountPaid           decimal.Decimal  `json:"amountPaid"`
		SettlementAmount     *decimal.Decimal `json:"settlementAmount"`
		Amount               decimal.Decimal  `json:"amount"`
		Fee                  *decimal.Decimal `json:"fee"`
		Currency             string           `json:"currency"`
		PaymentMethod        string           `json:"paymentMethod"`
		PaidOn               string           `json:"paidOn"`
		CompletedOn          string           `json:"completedOn"`
		Description          string           `json:"transactionDescription"`
		Destination          struct {
			AccountNumber string `json:"accountNumber"`
			BankName      string `json:"bankName"`
		} `json:"destinationAccountInformation"`
		Customer struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"customer"`
	} `json:"eventData"`
}

// Monnify reports naira amounts, and for collections the settlement amount
// after its fee rather than the fee itself.
type Monnify struct {
	signer signer
}

func NewMonnify(clientSecret string, logger *slog.Logger) *Monnify {
	return &Monnify{signer: hmacSHA512Hex(string(models.ProviderMonnify), clientSecret, logger)}
}

func (m *Monnify) Name() models.Provider {
	return models.ProviderMonnify
}

func (m *Monnify) SignatureHeader() string {
	return MonnifySignatureHeader
}

func (m *Monnify) ValidateSignature(rawBody []byte, signature string) bool {
	return m.signer.verify(rawBody, signature)
}

func (m *Monnify) ValidatePayload(payload []byte) error {
	_, _, err := m.parse(payload)
	return err
}

func (m *Monnify) parse(payload []byte) (*monnifyPayload, models.Category, error) {
	var in monnifyPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	category, ok := monnifyEvents[in.EventType]
	if !ok {
		return nil, "", fmt.Errorf("%w: monnify %q", ErrUnsupportedEvent, in.EventType)
	}

	d := in.EventData
	if d.TransactionReference == "" {
		return nil, "", fmt.Errorf("%w: eventData.transactionReference", ErrMissingField)
	}

	switch category {
	case models.CategoryFunding:
		if d.PaymentStatus == "" {
			return nil, "", fmt.Errorf("%w: eventData.paymentStatus", ErrMissingField)
		}
		if !d.AmountPaid.IsPositive() {
			return nil, "", fmt.Errorf("%w: eventData.amountPaid", ErrMissingField)
		}
	case models.CategoryWithdrawal:
		if d.Reference == "" {
			return nil, "", fmt.Errorf("%w: eventData.reference", ErrMissingField)
		}
		if d.Status == "" {
			return nil, "", fmt.Errorf("%w: eventData.status", ErrMissingField)
		}
		if !d.Amount.IsPositive() {
			return nil, "", fmt.Errorf("%w: eventData.amount", ErrMissingField)
		}
	}

	return &in, category, nil
}

func (m *Monnify) Process(payload []byte) (*models.WebhookProcessResult, error) {
	in, category, err := m.parse(payload)
	if err != nil {
		return nil, err
	}
	d := in.EventData

	result := &models.WebhookProcessResult{
		Provider:              models.ProviderMonnify,
		Category:              category,
		EventType:             in.EventType,
		ProviderReference:     d.TransactionReference,
		ProviderTransactionID: d.TransactionReference,
		Currency:              currencyOr(d.Currency),
	}

	switch category {
	case models.CategoryFunding:
		result.RawStatus = d.PaymentStatus
		result.Status, result.NeedsReview = monnifyStatuses.resolve(d.PaymentStatus)
		result.AccountNumber = d.Destination.AccountNumber
		if d.PaymentReference != "" {
			result.SecondaryIDs = []string{d.PaymentReference}
		}

		result.Amount, err = toMinor(d.AmountPaid)
		if err != nil {
			return nil, err
		}
		result.NetAmount = result.Amount
		if d.SettlementAmount != nil {
			settled, err := toMinor(*d.SettlementAmount)
			if err != nil {
				return nil, err
			}
			result.Fees = result.Amount - settled
			result.NetAmount, err = netOf(result.Amount, result.Fees, 0)
			if err != nil {
				return nil, err
			}
		}
	case models.CategoryWithdrawal:
		result.RawStatus = d.Status
		result.Status, result.NeedsReview = monnifyStatuses.resolve(d.Status)
		result.Reference = d.Reference

		result.Amount, err = toMinor(d.Amount)
		if err != nil {
			return nil, err
		}
		result.NetAmount = result.Amount
		result.Fees, err = optionalMinor(d.Fee)
		if err != nil {
			return nil, err
		}
	}

	result.Metadata = models.Metadata{
		"event_type":        in.EventType,
		"amount":            result.Amount,
		"net_amount":        result.NetAmount,
		"fees":              result.Fees,
		"currency":          result.Currency,
		"raw_status":        result.RawStatus,
		"payment_reference": d.PaymentReference,
		"payment_method":    d.PaymentMethod,
		"paid_on":           d.PaidOn,
		"completed_on":      d.CompletedOn,
		"bank":              d.Destination.BankName,
		"customer":          d.Customer.Email,
	}
	if d.Description != "" {
		result.Metadata["description"] = d.Description
	}

	return result, nil
}
