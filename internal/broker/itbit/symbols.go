package itbit

import (
	"strings"

	"alerttrader/internal/domain"
)

var aliases = map[string]string{
	"BTC": "XBT",
}

var supported = domain.SymbolPair{Base: "XBT", Quote: "USD"}

// NormalizeCurrency returns the upper-case itBit code for a currency.
func NormalizeCurrency(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if alias, ok := aliases[c]; ok {
		return alias
	}
	return c
}

// NormalizePair normalizes both legs and rejects anything but XBT/USD.
func NormalizePair(pair domain.SymbolPair) (domain.SymbolPair, error) {
	out := domain.SymbolPair{Base: NormalizeCurrency(pair.Base), Quote: NormalizeCurrency(pair.Quote)}
	if out != supported {
		return out, domain.NewError(domain.KindValidation, "unsupported symbol", map[string]any{"pair": pair.String()})
	}
	return out, nil
}

// Instrument is the venue's pair code, e.g. "XBTUSD".
func Instrument(pair domain.SymbolPair) string {
	return NormalizeCurrency(pair.Base) + NormalizeCurrency(pair.Quote)
}
