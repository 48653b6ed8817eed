package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType denotes the order types the connectors submit.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
	StatusRejected OrderStatus = "rejected"
	StatusExpired  OrderStatus = "expired"
	StatusUnknown  OrderStatus = "unknown"
)

// MarketType distinguishes spot vs perpetual swap venues.
type MarketType string

const (
	MarketSpot MarketType = "spot"
	MarketSwap MarketType = "swap"
)

// OrderParams carries the optional flags of an order.
type OrderParams struct {
	ClientID   string
	ReduceOnly bool
	StopPrice  float64
}

// OrderRequest is the generic order shape used by OrderCreator.
type OrderRequest struct {
	Symbol string
	Type   OrderType
	Side   Side
	Amount float64
	Price  float64 // limit orders only
	Params OrderParams
}

// StopOrderRequest describes a protective stop-market order.
type StopOrderRequest struct {
	Symbol     string
	Side       Side
	Amount     float64
	StopPrice  float64
	ReduceOnly bool
	ClientID   string
}

// Order is the exchange acknowledgement of a submitted order. Amounts are in
// base currency regardless of the venue's contract units.
type Order struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      Side
	Type      OrderType
	Amount    float64
	Filled    float64
	Average   float64 // zero when the venue did not report a fill price
	Price     float64
	Status    OrderStatus
	Timestamp time.Time
}

// Ticker holds the latest traded prices of a symbol. Zero means unreported.
type Ticker struct {
	Symbol string
	Last   float64
	Close  float64
}

// Reference returns last, falling back to close.
func (t Ticker) Reference() float64 {
	if t.Last > 0 {
		return t.Last
	}
	return t.Close
}
