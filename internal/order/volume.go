package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tv-executor/internal/domain"
	"tv-executor/pkg/exchanges/common"
)

// Precision rounds a base quantity to what a venue accepts for a symbol.
type Precision interface {
	AmountToPrecision(symbol string, amount float64) (float64, error)
}

// ResolveVolume returns the quantity to submit for rc. Notional sizing divides
// VolumeUSDT by referencePrice; otherwise Volume is used. Either way the result
// is rounded by precision and must stay positive.
func ResolveVolume(rc domain.ResolvedOrderContext, referencePrice float64, precision Precision) (float64, error) {
	sig := rc.Signal
	exchange := string(sig.Exchange)

	var raw float64
	switch {
	case sig.VolumeUSDT != nil:
		if referencePrice <= 0 {
			return 0, domain.NewExchangeError(exchange,
				"Could not determine current price for "+rc.Symbol, common.ClassBadResponse, nil)
		}
		raw = notionalQuantity(*sig.VolumeUSDT, referencePrice)
	case sig.Volume != nil:
		raw = *sig.Volume
	default:
		return 0, domain.NewExchangeError(exchange,
			"Either volume or volumeUSDT must be specified", common.ClassInvalidOrder, nil)
	}

	qty, err := precision.AmountToPrecision(rc.Symbol, raw)
	if err != nil {
		return 0, exchangeError(exchange, "Failed to apply amount precision", err)
	}
	if qty <= 0 {
		return 0, domain.NewExchangeError(exchange,
			fmt.Sprintf("Order quantity %v rounds to zero for %s", raw, rc.Symbol), common.ClassInvalidOrder, nil)
	}
	return qty, nil
}

func notionalQuantity(notional, price float64) float64 {
	return decimal.NewFromFloat(notional).Div(decimal.NewFromFloat(price)).InexactFloat64()
}

// exchangeError wraps a connector failure, keeping its broker class as the code.
func exchangeError(exchange, message string, err error) *domain.ExchangeError {
	return domain.NewExchangeError(exchange, message+": "+err.Error(), common.ClassOf(err), err)
}
