// Package pricing implements money formatting and price math for the
// checkout. All amounts are integer centavos; floats never enter the
// calculations.
package pricing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when a string cannot be parsed as a BRL
// amount.
var ErrInvalidAmount = errors.New("invalid amount")

// FormatBRL renders centavos as a Brazilian Real string, for example
// "R$ 1.234,56". Thousands are separated with dots and the decimal
// separator is a comma.
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	reais := strconv.FormatInt(cents/100, 10)
	var grouped strings.Builder
	for i := 0; i < len(reais); i++ {
		if i > 0 && (len(reais)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteByte(reais[i])
	}

	return fmt.Sprintf("%sR$ %s,%02d", sign, grouped.String(), cents%100)
}

// ParseBRL parses a Brazilian Real string back into centavos. It accepts
// the output of FormatBRL as well as bare amounts like "300" or "199,90".
func ParseBRL(s string) (int64, error) {
	v := strings.TrimSpace(s)
	negative := strings.HasPrefix(v, "-")
	v = strings.TrimPrefix(v, "-")
	v = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "R$"))
	if v == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	// Dots are thousands separators, the comma splits off centavos.
	v = strings.ReplaceAll(v, ".", "")
	intPart := v
	fracPart := "00"
	if i := strings.IndexByte(v, ','); i >= 0 {
		intPart = v[:i]
		fracPart = v[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) == 1 {
		fracPart += "0"
	}
	if len(fracPart) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	reais, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	cents, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil || cents < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	total := reais*100 + cents
	if negative {
		total = -total
	}
	return total, nil
}

// DecimalString renders centavos with a dot decimal separator and no
// grouping, the form provider APIs expect ("300.00").
func DecimalString(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// FormatInstallments renders the price line shown on a checkout option:
// "R$ 300,00 à vista" for single payments, "10x de R$ 199,90" for
// installment plans.
func FormatInstallments(totalCents int64, installments int, installmentCents int64) string {
	if installments <= 1 {
		return FormatBRL(totalCents) + " à vista"
	}
	return fmt.Sprintf("%dx de %s", installments, FormatBRL(installmentCents))
}

// FinalPrice returns the amount to charge for a price when the buyer
// selects the mentorship addon. Mentorship doubles the base amount unless
// the price already includes it.
func FinalPrice(baseCents int64, priceIncludesMentorship, mentorshipSelected bool) int64 {
	if mentorshipSelected && !priceIncludesMentorship {
		return baseCents * 2
	}
	return baseCents
}

// InstallmentAmount splits a total into n installments, truncating toward
// zero. The provider charges the advertised per-installment amount, so the
// remainder is absorbed rather than added to the last installment.
func InstallmentAmount(totalCents int64, n int) int64 {
	if n <= 1 {
		return totalCents
	}
	return totalCents / int64(n)
}
