package domain

import "time"

// ExchangeID identifies a supported venue.
type ExchangeID string

const (
	ExchangeBinance ExchangeID = "binance"
	ExchangeBybit   ExchangeID = "bybit"
	ExchangeOKX     ExchangeID = "okx"
	ExchangeBitget  ExchangeID = "bitget"
)

// Exchanges lists every venue a signal may target.
var Exchanges = []ExchangeID{ExchangeBinance, ExchangeBybit, ExchangeOKX, ExchangeBitget}

// Action is the side of the entry order.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Opposite returns the side that closes a position opened by a.
func (a Action) Opposite() Action {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// OrderType is the kind of entry order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// MarketOverride is the optional market designation carried by a signal.
type MarketOverride string

const (
	OverrideSpot    MarketOverride = "spot"
	OverrideFutures MarketOverride = "futures"
	OverrideSwap    MarketOverride = "swap"
)

// MarketType is the resolved market an order is routed to.
type MarketType string

const (
	MarketSpot       MarketType = "spot"
	MarketDerivative MarketType = "derivative"
)

// Direction is the position direction for derivative signals.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// TradeSignal is a validated, normalized alert. It is built once per request
// and passed by value; nothing downstream modifies it.
type TradeSignal struct {
	Exchange   ExchangeID
	Symbol     string // normalized: BASE/QUOTE or BASE/QUOTE:SETTLE
	Action     Action
	OrderType  OrderType
	Passphrase string

	Volume     *float64 // base asset quantity
	VolumeUSDT *float64 // notional in quote currency; wins over Volume
	MarketType MarketOverride
	Direction  Direction
	Leverage   *int
	ReduceOnly bool
}

// ResolvedOrderContext is the per-run routing decision for a signal.
type ResolvedOrderContext struct {
	Signal     TradeSignal
	MarketType MarketType
	Symbol     string
}

// OrderStatus is the coarse state of the entry order as reported to callers.
type OrderStatus string

const (
	StatusFilled  OrderStatus = "filled"
	StatusPartial OrderStatus = "partial"
	StatusPending OrderStatus = "pending"
)

// StopLossInfo describes the protective order attached after the entry.
type StopLossInfo struct {
	OrderID   string  `json:"orderId"`
	StopPrice float64 `json:"stopPrice"`
}

// OrderResult is the outcome of a successful pipeline run.
type OrderResult struct {
	OrderID    string      `json:"orderId"`
	Exchange   ExchangeID  `json:"exchange"`
	Symbol     string      `json:"symbol"`
	Action     Action      `json:"action"`
	OrderType  OrderType   `json:"orderType"`
	Volume     float64     `json:"volume"` // quantity actually submitted, after precision rounding
	Price      *float64    `json:"price"`  // nil when the exchange reported no fill price
	ExecutedAt time.Time   `json:"executedAt"`
	Status     OrderStatus `json:"status"`

	MarketType MarketType    `json:"marketType,omitempty"`
	Leverage   *int          `json:"leverage,omitempty"`
	Direction  Direction     `json:"direction,omitempty"`
	StopLoss   *StopLossInfo `json:"stopLoss,omitempty"`
}
