package signal

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	spotSymbol       = regexp.MustCompile(`^[A-Z0-9]+/[A-Z0-9]+$`)
	derivativeSymbol = regexp.MustCompile(`^[A-Z0-9]+/[A-Z0-9]+:[A-Z0-9]+$`)
	perpetualSymbol  = regexp.MustCompile(`^[A-Z0-9]+\.P$`)
)

// perpetualQuotes are the quote currencies recognised in the BASEQUOTE.P
// shorthand. Each settles in itself.
var perpetualQuotes = []string{"USDT", "USDC"}

const symbolFormatHint = "Invalid symbol format (expected BTC/USDT, BTC/USDT:USDT, or BTCUSDT.P)"

// NormalizeSymbol checks raw against the accepted grammars and rewrites the
// perpetual shorthand into BASE/QUOTE:SETTLE. Normalized input is returned
// unchanged.
func NormalizeSymbol(raw string) (string, error) {
	switch {
	case spotSymbol.MatchString(raw), derivativeSymbol.MatchString(raw):
		return raw, nil
	case perpetualSymbol.MatchString(raw):
		pair := strings.TrimSuffix(raw, ".P")
		for _, quote := range perpetualQuotes {
			base, ok := strings.CutSuffix(pair, quote)
			if ok && base != "" {
				return base + "/" + quote + ":" + quote, nil
			}
		}
		return "", fmt.Errorf("unsupported quote currency in perpetual symbol %s (expected one of %s)",
			raw, strings.Join(perpetualQuotes, ", "))
	default:
		return "", fmt.Errorf("%s", symbolFormatHint)
	}
}

// splitSymbol breaks a normalized symbol into its parts; settle is empty for spot pairs.
func splitSymbol(symbol string) (base, quote, settle string) {
	pair, settle, _ := strings.Cut(symbol, ":")
	base, quote, _ = strings.Cut(pair, "/")
	return base, quote, settle
}
