package pricing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Parsed is the normalized form of one raw price text.
type Parsed struct {
	Amount        decimal.Decimal
	Currency      string
	IsSale        bool
	NominalAmount *decimal.Decimal
}

// ParseError means no numeric token could be extracted from the text. It is
// the only hard failure in the pipeline; the caller skips the record.
type ParseError struct {
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no price found in %q", e.Text)
}

var amountRegex = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]{1,2})?`)

// Currency tokens checked in order; more specific tokens first so "CA$" is
// not swallowed by the bare "$" check. Alphabetic codes only count at word
// boundaries, otherwise "arcade" would read as CAD.
var currencyTokens = []struct {
	token string
	code  string
	word  bool
}{
	{"ca$", "CAD", false},
	{"c$", "CAD", false},
	{"cad", "CAD", true},
	{"us$", "USD", false},
	{"usd", "USD", true},
	{"eur", "EUR", true},
	{"€", "EUR", false},
	{"gbp", "GBP", true},
	{"£", "GBP", false},
}

var saleTokens = []string{"was", "reg", "sale", "now", "save", "orig", "clearance"}

// Parse converts raw price text into a normalized (amount, currency, is_sale,
// nominal) tuple. Amounts are fixed at two fractional digits; parsing the
// same text twice yields identical output. hint is an optional declared
// currency; fallback is the configured default when nothing else matches.
func Parse(text, hint, fallback string) (Parsed, error) {
	currency := detectCurrency(text, hint, fallback)

	if strings.Contains(strings.ToLower(text), "free") {
		zero := decimal.Zero.Round(2)
		return Parsed{Amount: zero, Currency: currency}, nil
	}

	var amounts []decimal.Decimal
	for _, tok := range amountRegex.FindAllString(text, -1) {
		d, err := decimal.NewFromString(strings.ReplaceAll(tok, ",", ""))
		if err != nil {
			continue
		}
		amounts = append(amounts, d.Round(2))
	}
	if len(amounts) == 0 {
		return Parsed{}, &ParseError{Text: text}
	}

	lo, hi := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		if a.LessThan(lo) {
			lo = a
		}
		if a.GreaterThan(hi) {
			hi = a
		}
	}

	p := Parsed{Amount: lo, Currency: currency}

	if hi.GreaterThan(lo) {
		// Two distinct numeric tokens: lower is the sale price, higher the
		// nominal one.
		p.IsSale = true
		p.NominalAmount = &hi
		return p, nil
	}

	if hasSaleToken(text) {
		p.IsSale = true
	}
	return p, nil
}

func detectCurrency(text, hint, fallback string) string {
	lower := strings.ToLower(text)
	for _, ct := range currencyTokens {
		if ct.word {
			if containsWord(lower, ct.token) {
				return ct.code
			}
		} else if strings.Contains(lower, ct.token) {
			return ct.code
		}
	}
	if hint != "" {
		return strings.ToUpper(hint)
	}
	if strings.Contains(text, "$") {
		// A bare dollar sign is ambiguous without a hint; assume USD.
		return "USD"
	}
	if fallback != "" {
		return strings.ToUpper(fallback)
	}
	return "USD"
}

func hasSaleToken(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "<del>") || strings.Contains(lower, "<s>") || strings.Contains(lower, "~~") {
		return true
	}
	for _, tok := range saleTokens {
		if containsWord(lower, tok) {
			return true
		}
	}
	return false
}

// containsWord matches tok only at word boundaries so "save" does not fire
// on e.g. "savery street".
func containsWord(s, tok string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], tok)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(tok)
		beforeOK := start == 0 || !isWordByte(s[start-1])
		afterOK := end == len(s) || !isWordByte(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
