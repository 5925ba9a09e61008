package adapters

import (
	"strings"
)

// AssetClass separates equities from crypto pairs.
type AssetClass string

const (
	AssetEquity AssetClass = "equity"
	AssetCrypto AssetClass = "crypto"
)

// Symbol is a classified ticker. Crypto pairs are written BASE/QUOTE.
type Symbol struct {
	Ticker string
	Class  AssetClass
	Base   string // crypto only
	Quote  string // crypto only
}

// fiat quote currencies accepted after a dash, so "BTC-USD" reads as a pair
// while "BRK-B" stays an equity.
var pairQuotes = map[string]bool{
	"USD": true, "USDT": true, "USDC": true, "EUR": true, "GBP": true, "JPY": true,
}

// NormalizeSymbol uppercases and trims s and rewrites dash-separated crypto
// pairs ("btc-usd") to the slash form ("BTC/USD").
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if strings.Contains(s, "/") {
		return s
	}
	if i := strings.LastIndexByte(s, '-'); i > 0 && pairQuotes[s[i+1:]] && len(s[:i]) >= 2 {
		return s[:i] + "/" + s[i+1:]
	}
	return s
}

// ClassifySymbol normalizes s and detects crypto pairs by the "/" separator.
func ClassifySymbol(s string) Symbol {
	t := NormalizeSymbol(s)
	if base, quote, ok := strings.Cut(t, "/"); ok {
		return Symbol{Ticker: t, Class: AssetCrypto, Base: base, Quote: quote}
	}
	return Symbol{Ticker: t, Class: AssetEquity}
}

// IsCrypto reports whether the symbol is a crypto pair.
func (s Symbol) IsCrypto() bool { return s.Class == AssetCrypto }

// SymbolPolicy decides which symbols may reach an upstream at all. Equities
// are always allowed; crypto pairs only when listed.
type SymbolPolicy struct {
	cryptoAllowlist map[string]bool
}

// NewSymbolPolicy builds a policy from the configured crypto allowlist.
func NewSymbolPolicy(cryptoAllowlist []string) SymbolPolicy {
	p := SymbolPolicy{cryptoAllowlist: make(map[string]bool, len(cryptoAllowlist))}
	for _, s := range cryptoAllowlist {
		p.cryptoAllowlist[NormalizeSymbol(s)] = true
	}
	return p
}

// Allows reports whether sym may be requested.
func (p SymbolPolicy) Allows(sym Symbol) bool {
	if sym.Class != AssetCrypto {
		return true
	}
	return p.cryptoAllowlist[sym.Ticker]
}
