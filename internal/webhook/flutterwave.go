package webhook

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/shopspring/decimal"
)

const FlutterwaveSignatureHeader = "flutterwave-signature"

var flutterwaveEvents = map[string]models.Category{
	"charge.completed":   models.CategoryFunding,
	"transfer.completed": models.CategoryWithdrawal,
}

var flutterwaveStatuses = statusTable{
	"successful": models.TransactionStatusSuccess,
	"success":    models.TransactionStatusSuccess,
	"failed":     models.TransactionStatusFailed,
	"cancelled":  models.TransactionStatusFailed,
	"reversed":   models.TransactionStatusReversed,
	"pending":    models.TransactionStatusPending,
	"new":        models.TransactionStatusPending,
}

type flutterwavePayload struct {
	Event string `json:"event"`
	Data  struct {
		ID            json.Number      `json:"id"`
		TxRef         string           `json:"tx_ref"`
		FlwRef        string           `json:"flw_ref"`
		Reference     string           `json:"reference"`
		Status        string           `json:"status"`
		Amount        decimal.Decimal  `json:"amount"`
		ChargedAmount *decimal.Decimal `json:"charged_amount"`
		AppFee        *decimal.Decimal `json:"app_fee"`
		Fee           *decimal.Decimal `json:"fee"`
		VAT           *decimal.Decimal `json:"vat"`
		Currency      string           `json:"currency"`
		AccountNumber string           `json:"account_number"`
		PaymentType   string           `json:"payment_type"`
		Narration     string           `json:"narration"`
		CompleteMsg   string           `json:"complete_message"`
		CreatedAt     string           `json:"created_at"`
		Customer      struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"customer"`
	} `json:"data"`
}

// Flutterwave reports amounts in naira as JSON numbers.
type Flutterwave struct {
	signer signer
}

func NewFlutterwave(secretHash string, logger *slog.Logger) *Flutterwave {
	return &Flutterwave{signer: hmacSHA256Base64(string(models.ProviderFlutterwave), secretHash, logger)}
}

func (f *Flutterwave) Name() models.Provider {
	return models.ProviderFlutterwave
}

func (f *Flutterwave) SignatureHeader() string {
	return FlutterwaveSignatureHeader
}

func (f *Flutterwave) ValidateSignature(rawBody []byte, signature string) bool {
	return f.signer.verify(rawBody, signature)
}

func (f *Flutterwave) ValidatePayload(payload []byte) error {
	_, _, err := f.parse(payload)
	return err
}

func (f *Flutterwave) parse(payload []byte) (*flutterwavePayload, models.Category, error) {
	var in flutterwavePayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	category, ok := flutterwaveEvents[in.Event]
	if !ok {
		return nil, "", fmt.Errorf("%w: flutterwave %q", ErrUnsupportedEvent, in.Event)
	}

	switch {
	case in.Data.ID.String() == "":
		return nil, "", fmt.Errorf("%w: data.id", ErrMissingField)
	case in.Data.Status == "":
		return nil, "", fmt.Errorf("%w: data.status", ErrMissingField)
	case !in.Data.Amount.IsPositive():
		return nil, "", fmt.Errorf("%w: data.amount", ErrMissingField)
	case category == models.CategoryWithdrawal && in.Data.Reference == "":
		return nil, "", fmt.Errorf("%w: data.reference", ErrMissingField)
	}

	return &in, category, nil
}

func (f *Flutterwave) Process(payload []byte) (*models.WebhookProcessResult, error) {
	in, category, err := f.parse(payload)
	if err != nil {
		return nil, err
	}

	status, needsReview := flutterwaveStatuses.resolve(in.Data.Status)

	amount, err := toMinor(in.Data.Amount)
	if err != nil {
		return nil, err
	}

	feeSource := in.Data.AppFee
	if category == models.CategoryWithdrawal {
		feeSource = in.Data.Fee
	}
	fees, err := optionalMinor(feeSource)
	if err != nil {
		return nil, err
	}
	taxes, err := optionalMinor(in.Data.VAT)
	if err != nil {
		return nil, err
	}

	result := &models.WebhookProcessResult{
		Provider:              models.ProviderFlutterwave,
		Category:              category,
		EventType:             in.Event,
		ProviderTransactionID: in.Data.ID.String(),
		Status:                status,
		RawStatus:             in.Data.Status,
		Amount:                amount,
		Fees:                  fees,
		Taxes:                 taxes,
		Currency:              currencyOr(in.Data.Currency),
		NeedsReview:           needsReview,
	}

	switch category {
	case models.CategoryFunding:
		// flw_ref is stable across retries; the numeric id is kept as a secondary key
		result.ProviderReference = in.Data.FlwRef
		if result.ProviderReference == "" {
			result.ProviderReference = result.ProviderTransactionID
		}
		if in.Data.TxRef != "" {
			result.SecondaryIDs = append(result.SecondaryIDs, in.Data.TxRef)
		}
		result.AccountNumber = in.Data.AccountNumber
		result.NetAmount, err = netOf(amount, fees, taxes)
		if err != nil {
			return nil, err
		}
	case models.CategoryWithdrawal:
		result.Reference = in.Data.Reference
		result.ProviderReference = result.ProviderTransactionID
		result.NetAmount = amount
	}

	result.Metadata = models.Metadata{
		"event_type":   in.Event,
		"amount":       result.Amount,
		"net_amount":   result.NetAmount,
		"fees":         fees,
		"taxes":        taxes,
		"currency":     result.Currency,
		"raw_status":   in.Data.Status,
		"flw_ref":      in.Data.FlwRef,
		"tx_ref":       in.Data.TxRef,
		"payment_type": in.Data.PaymentType,
		"created_at":   in.Data.CreatedAt,
		"customer":     in.Data.Customer.Email,
	}
	if in.Data.CompleteMsg != "" {
		result.Metadata["reason"] = in.Data.CompleteMsg
	}

	return result, nil
}

func optionalMinor(d *decimal.Decimal) (int64, error) {
	if d == nil {
		return 0, nil
	}
	return toMinor(*d)
}
