package signal

import (
	"strings"

	"tv-executor/internal/domain"
)

// ResolveMarketType decides whether sig trades spot or a derivative. An
// explicit marketType wins; otherwise a settlement suffix or the perpetual
// marker means derivative.
func ResolveMarketType(sig domain.TradeSignal) domain.MarketType {
	switch sig.MarketType {
	case domain.OverrideSpot:
		return domain.MarketSpot
	case domain.OverrideFutures, domain.OverrideSwap:
		return domain.MarketDerivative
	}
	if strings.Contains(sig.Symbol, ":") || strings.HasSuffix(sig.Symbol, ".P") {
		return domain.MarketDerivative
	}
	return domain.MarketSpot
}

// Resolve builds the routing context for one pipeline run. The symbol is
// rewritten to match the market: spot drops a settlement suffix, and a
// derivative pair without one settles in its quote currency.
func Resolve(sig domain.TradeSignal) domain.ResolvedOrderContext {
	market := ResolveMarketType(sig)
	base, quote, settle := splitSymbol(sig.Symbol)

	symbol := base + "/" + quote
	if market == domain.MarketDerivative {
		if settle == "" {
			settle = quote
		}
		symbol += ":" + settle
	}
	return domain.ResolvedOrderContext{Signal: sig, MarketType: market, Symbol: symbol}
}
