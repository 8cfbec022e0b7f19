package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissingRate is returned when a conversion needs a currency the rate
// table does not carry. Callers degrade rather than fail the cycle.
var ErrMissingRate = errors.New("fx rate missing")

// Rates maps currency codes to their USD value per unit (USD itself is 1.0).
type Rates map[string]decimal.Decimal

func (r Rates) rate(currency string) (decimal.Decimal, bool) {
	code := strings.ToUpper(currency)
	if v, ok := r[code]; ok && v.IsPositive() {
		return v, true
	}
	if code == "USD" {
		return decimal.NewFromInt(1), true
	}
	return decimal.Decimal{}, false
}

// ToUSD converts an amount into its USD equivalent.
func (r Rates) ToUSD(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, ok := r.rate(currency)
	if !ok {
		return decimal.Decimal{}, ErrMissingRate
	}
	return amount.Mul(rate).Round(2), nil
}

// Convert moves an amount between two currencies through USD.
func (r Rates) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	fromRate, ok := r.rate(from)
	if !ok {
		return decimal.Decimal{}, ErrMissingRate
	}
	toRate, ok := r.rate(to)
	if !ok {
		return decimal.Decimal{}, ErrMissingRate
	}
	return amount.Mul(fromRate).Div(toRate).Round(2), nil
}
