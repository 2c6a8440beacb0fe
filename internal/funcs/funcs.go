package funcs

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// TemplateFuncs is shared by the text and html mail templates.
var TemplateFuncs = map[string]any{
	"formatAmount": formatAmount,
	"toUpper":      strings.ToUpper,
}

var printer = message.NewPrinter(language.English)

// formatAmount renders kobo as a grouped major-unit figure, e.g. "NGN 4,950.00".
func formatAmount(minor int64, currency string) string {
	if currency == "" {
		currency = "NGN"
	}

	major := float64(minor) / 100
	return currency + " " + printer.Sprint(number.Decimal(major, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}
