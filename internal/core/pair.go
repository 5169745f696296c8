package core

import (
	"strings"
)

type CurrencyPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func NewPair(base, quote string) (CurrencyPair, error) {
	p := CurrencyPair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
	if err := p.Validate(); err != nil {
		return CurrencyPair{}, err
	}
	return p, nil
}

// ParsePair accepts BASE/QUOTE, BASE-QUOTE or BASE_QUOTE.
func ParsePair(raw string) (CurrencyPair, error) {
	raw = strings.TrimSpace(raw)
	idx := strings.IndexAny(raw, "/-_")
	if idx < 0 {
		return CurrencyPair{}, RequestInvalid("", "currency pair %q must be BASE/QUOTE", raw)
	}
	return NewPair(raw[:idx], raw[idx+1:])
}

func (p CurrencyPair) Validate() error {
	if !isValidCurrency(p.Base) {
		return RequestInvalid("", "base currency %q must match [A-Z0-9], length 2..12", p.Base)
	}
	if !isValidCurrency(p.Quote) {
		return RequestInvalid("", "quote currency %q must match [A-Z0-9], length 2..12", p.Quote)
	}
	if p.Base == p.Quote {
		return RequestInvalid("", "base and quote currency must differ")
	}
	return nil
}

func (p CurrencyPair) String() string {
	return p.Base + "/" + p.Quote
}

// Symbol returns the concatenated venue-style symbol, e.g. BTCUSDT.
func (p CurrencyPair) Symbol() string {
	return p.Base + p.Quote
}

func isValidCurrency(v string) bool {
	if len(v) < 2 || len(v) > 12 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}
