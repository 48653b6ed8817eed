package common

import "context"

// Connector abstracts one market (spot or swap) of a trading venue. Symbols
// are unified: BASE/QUOTE for spot, BASE/QUOTE:SETTLE for swaps.
type Connector interface {
	ID() string
	Market() MarketType
	CreateMarketOrder(ctx context.Context, symbol string, side Side, amount float64, params OrderParams) (Order, error)
	CreateLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64, params OrderParams) (Order, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	AmountToPrecision(symbol string, amount float64) (float64, error)
	PriceToPrecision(symbol string, price float64) (float64, error)
}

// LeverageSetter is implemented by connectors that can configure leverage.
type LeverageSetter interface {
	SetLeverage(ctx context.Context, leverage int, symbol string) error
}

// StopOrderCreator is implemented by connectors with a dedicated stop-order call.
type StopOrderCreator interface {
	CreateStopOrder(ctx context.Context, req StopOrderRequest) (Order, error)
}

// OrderCreator is the generic order-creation primitive.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
}

// MarketLoader is implemented by connectors that need instrument metadata
// before precision rules can be applied.
type MarketLoader interface {
	LoadMarkets(ctx context.Context) error
}
