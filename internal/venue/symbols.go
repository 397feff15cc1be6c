package venue

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SymbolRule strips a quote asset suffix from a combined pair string.
// Exchanges glue pairs differently: BTCUSDT, BTC-USDT, btcusdt.
type SymbolRule struct {
	// Suffix is the venue suffix to match, upper case (e.g. "USDT", "-USDT").
	Suffix string

	// Quote is the canonical quote asset (e.g. "USDT").
	Quote string
}

// DefaultSymbolRules maps venue names to their quote suffixes. Longer
// suffixes come first so "FDUSD" wins over "USD".
var DefaultSymbolRules = map[string][]SymbolRule{
	"bybit": {
		{Suffix: "USDT", Quote: "USDT"},
		{Suffix: "USDC", Quote: "USDC"},
		{Suffix: "BTC", Quote: "BTC"},
		{Suffix: "EUR", Quote: "EUR"},
	},
	"binance": {
		{Suffix: "FDUSD", Quote: "FDUSD"},
		{Suffix: "USDT", Quote: "USDT"},
		{Suffix: "USDC", Quote: "USDC"},
		{Suffix: "BTC", Quote: "BTC"},
		{Suffix: "ETH", Quote: "ETH"},
		{Suffix: "EUR", Quote: "EUR"},
	},
	"cryptocompare": {
		{Suffix: "USDT", Quote: "USDT"},
		{Suffix: "USD", Quote: "USD"},
		{Suffix: "EUR", Quote: "EUR"},
		{Suffix: "BTC", Quote: "BTC"},
	},
}

// SplitPair splits a venue pair into base and quote.
// Example: ("bybit", "BTCUSDT") -> "BTC", "USDT".
// It fails when no rule matches or the base would be empty.
func SplitPair(exchange, pair string) (base, quote string, err error) {
	rules, ok := DefaultSymbolRules[strings.ToLower(exchange)]
	if !ok {
		return "", "", Failf(exchange, "no symbol rules")
	}

	upper := strings.ToUpper(pair)
	for _, rule := range rules {
		if strings.HasSuffix(upper, rule.Suffix) {
			base = strings.TrimSuffix(upper, rule.Suffix)
			base = strings.TrimRight(base, "-_/")
			if base == "" {
				break
			}
			return base, rule.Quote, nil
		}
	}
	return "", "", Failf(exchange, "unrecognized pair %q", pair)
}

// ParseAmount parses a venue decimal string into a finite, non-negative
// float. "NaN", "Inf", empty and negative values are rejected.
func ParseAmount(exchange, field, s string) (float64, error) {
	if s == "" {
		return 0, Failf(exchange, "missing %s", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, Wrap(exchange, "non-numeric "+field, err)
	}
	if d.IsNegative() {
		return 0, Failf(exchange, "negative %s %s", field, s)
	}
	return d.InexactFloat64(), nil
}

// MillisToNanos scales a millisecond timestamp to nanoseconds.
func MillisToNanos(ms int64) int64 {
	return ms * 1_000_000
}
