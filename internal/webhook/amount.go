package webhook

import (
	"fmt"
	"strings"

	"github.com/cradoe/walletrecon/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// toMinor converts a major-unit amount (naira) to kobo.
func toMinor(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrValidation, d)
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// netOf applies reported deductions. Without deductions net equals gross.
func netOf(gross, fees, taxes int64) (int64, error) {
	net := gross - (fees + taxes)
	if fees < 0 || taxes < 0 || net <= 0 {
		return 0, fmt.Errorf("%w: deductions %d+%d exceed amount %d", ErrValidation, fees, taxes, gross)
	}
	return net, nil
}

// statusTable maps a provider's status vocabulary onto ledger statuses.
// Lookups fold case and otherwise match exactly.
type statusTable map[string]models.TransactionStatus

// resolve returns pending and needsReview=true for anything not listed.
func (t statusTable) resolve(raw string) (status models.TransactionStatus, needsReview bool) {
	if s, ok := t[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s, false
	}
	return models.TransactionStatusPending, true
}

func currencyOr(c string) string {
	if c == "" {
		return models.DefaultCurrency
	}
	return strings.ToUpper(c)
}
