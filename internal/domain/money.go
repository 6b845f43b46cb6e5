package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// moneyPlaces is the fractional precision PayPal uses for mc_gross.
const moneyPlaces = 2

// Money is a currency-tagged decimal amount.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// MoneyFromMinor builds an amount from minor units, e.g. 2500 -> 25.00.
func MoneyFromMinor(minor int64, currency string) Money {
	return Money{
		Amount:   decimal.New(minor, -moneyPlaces),
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
	}
}

// ParseMoney parses plain decimal amounts such as "10", "10.5", "-25.00".
// Exponent notation and more than two fractional digits are rejected.
func ParseMoney(amount string, currency string) (Money, error) {
	s := strings.TrimSpace(amount)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty amount", ErrMalformedPayload)
	}
	if strings.ContainsAny(s, "eE") || strings.HasSuffix(s, ".") {
		return Money{}, fmt.Errorf("%w: invalid amount %q", ErrMalformedPayload, amount)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: invalid amount %q", ErrMalformedPayload, amount)
	}
	if d.Exponent() < -moneyPlaces {
		return Money{}, fmt.Errorf("%w: invalid amount %q", ErrMalformedPayload, amount)
	}

	return Money{Amount: d, Currency: strings.ToUpper(strings.TrimSpace(currency))}, nil
}

func (m Money) Less(other Money) bool { return m.Amount.LessThan(other.Amount) }

func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

func (m Money) String() string {
	amount := m.Amount.StringFixed(moneyPlaces)
	if m.Currency == "" {
		return amount
	}
	return amount + " " + m.Currency
}
