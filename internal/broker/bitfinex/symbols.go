package bitfinex

import (
	"strings"

	"alerttrader/internal/domain"
)

var aliases = map[string]string{
	"xbt": "btc",
}

// supported is the only pair this adapter trades.
var supported = domain.SymbolPair{Base: "btc", Quote: "usd"}

// NormalizeCurrency returns the lower-case Bitfinex code for a currency.
func NormalizeCurrency(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	if alias, ok := aliases[c]; ok {
		return alias
	}
	return c
}

// NormalizePair normalizes both legs and rejects anything but btc/usd.
func NormalizePair(pair domain.SymbolPair) (domain.SymbolPair, error) {
	out := domain.SymbolPair{Base: NormalizeCurrency(pair.Base), Quote: NormalizeCurrency(pair.Quote)}
	if out != supported {
		return out, domain.NewError(domain.KindValidation, "unsupported symbol", map[string]any{"pair": pair.String()})
	}
	return out, nil
}

// Symbol is the venue's pair code, e.g. "btcusd".
func Symbol(pair domain.SymbolPair) string {
	return NormalizeCurrency(pair.Base) + NormalizeCurrency(pair.Quote)
}
