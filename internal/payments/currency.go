package payments

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("payments: unknown currency %q: %w", code, err)
	}
	return unit.String(), nil
}

// MinorUnitScale reports the number of decimal places of the currency's minor unit.
func MinorUnitScale(code string) int {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// FormatAmount renders a minor-unit amount as a decimal string, e.g. 4550 EGP as "45.50".
func FormatAmount(amount int64, code string) string {
	scale := MinorUnitScale(code)
	if scale == 0 {
		return strconv.FormatInt(amount, 10)
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	cut := len(digits) - scale
	return sign + digits[:cut] + "." + digits[cut:]
}
