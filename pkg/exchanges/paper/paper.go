// Package paper simulates order execution on top of a live connector's market
// data. Nothing is ever sent to the venue's trading endpoints.
package paper

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tv-executor/pkg/exchanges/common"
)

// SimConfig tunes the fill simulation.
type SimConfig struct {
	Slippage float64 // max adverse fraction applied to market fills, e.g. 0.001
	FeeRate  float64 // fraction of notional charged per fill
}

// Connector fills orders in memory at the live ticker price.
type Connector struct {
	live   common.Connector
	cfg    SimConfig
	logger *slog.Logger

	mu        sync.Mutex
	rng       *rand.Rand
	leverage  map[string]int
	positions map[string]*Position
	orders    []common.Order
	fees      float64
}

// Position is the simulated net position of one symbol.
type Position struct {
	Symbol     string      `json:"symbol"`
	Side       common.Side `json:"side"`
	Quantity   float64     `json:"quantity"`
	EntryPrice float64     `json:"entryPrice"`
}

// Book summarises the simulated account.
type Book struct {
	Positions []Position `json:"positions"`
	Orders    int        `json:"orders"`
	Fees      float64    `json:"fees"`
}

// New wraps live, which is only used for tickers and precision.
func New(live common.Connector, cfg SimConfig, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		live:      live,
		cfg:       cfg,
		logger:    logger.With("exchange", live.ID(), "market", live.Market(), "mode", "paper"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		leverage:  make(map[string]int),
		positions: make(map[string]*Position),
	}
}

func (p *Connector) ID() string                { return p.live.ID() }
func (p *Connector) Market() common.MarketType { return p.live.Market() }

// LoadMarkets delegates to the live connector when it needs metadata.
func (p *Connector) LoadMarkets(ctx context.Context) error {
	if loader, ok := p.live.(common.MarketLoader); ok {
		return loader.LoadMarkets(ctx)
	}
	return nil
}

func (p *Connector) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	return p.live.FetchTicker(ctx, symbol)
}

func (p *Connector) AmountToPrecision(symbol string, amount float64) (float64, error) {
	return p.live.AmountToPrecision(symbol, amount)
}

func (p *Connector) PriceToPrecision(symbol string, price float64) (float64, error) {
	return p.live.PriceToPrecision(symbol, price)
}

// SetLeverage records the leverage; swaps only.
func (p *Connector) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	if p.Market() != common.MarketSwap {
		return common.NewBrokerError(p.ID(), common.ClassNotSupported, "", "leverage is only available for derivatives")
	}
	p.mu.Lock()
	p.leverage[symbol] = leverage
	p.mu.Unlock()
	p.logger.Info("paper leverage set", "symbol", symbol, "leverage", leverage)
	return nil
}

// CreateMarketOrder fills immediately at the reference price moved against
// the taker by a random fraction of the configured slippage.
func (p *Connector) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, amount float64, params common.OrderParams) (common.Order, error) {
	tk, err := p.live.FetchTicker(ctx, symbol)
	if err != nil {
		return common.Order{}, err
	}
	ref := tk.Reference()
	if ref <= 0 {
		return common.Order{}, common.NewBrokerError(p.ID(), common.ClassBadResponse, "", "no reference price for "+symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	noise := p.rng.Float64() * p.cfg.Slippage
	price := ref * (1 + noise)
	if side == common.SideSell {
		price = ref * (1 - noise)
	}
	o := p.record(symbol, side, common.OrderTypeMarket, amount, price, params)
	o.Filled = amount
	o.Average = price
	o.Status = common.StatusClosed
	p.fill(o)
	return o, nil
}

// CreateLimitOrder fills at the limit price when it is marketable, otherwise
// the order rests.
func (p *Connector) CreateLimitOrder(ctx context.Context, symbol string, side common.Side, amount, price float64, params common.OrderParams) (common.Order, error) {
	tk, err := p.live.FetchTicker(ctx, symbol)
	if err != nil {
		return common.Order{}, err
	}
	ref := tk.Reference()

	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.record(symbol, side, common.OrderTypeLimit, amount, price, params)
	marketable := (side == common.SideBuy && price >= ref) || (side == common.SideSell && price <= ref)
	if ref > 0 && marketable {
		o.Filled = amount
		o.Average = price
		o.Status = common.StatusClosed
		p.fill(o)
	}
	return o, nil
}

// CreateStopOrder records a resting stop.
func (p *Connector) CreateStopOrder(ctx context.Context, req common.StopOrderRequest) (common.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.record(req.Symbol, req.Side, common.OrderTypeStopMarket, req.Amount, req.StopPrice,
		common.OrderParams{ClientID: req.ClientID, ReduceOnly: req.ReduceOnly, StopPrice: req.StopPrice})
	p.logger.Info("paper stop placed", "symbol", req.Symbol, "side", req.Side, "amount", req.Amount, "stop", req.StopPrice)
	return o, nil
}

// Book returns the open positions sorted by symbol, the number of simulated
// orders and the fees charged so far.
func (p *Connector) Book() Book {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := Book{Positions: make([]Position, 0, len(p.positions)), Orders: len(p.orders), Fees: p.fees}
	for _, pos := range p.positions {
		b.Positions = append(b.Positions, *pos)
	}
	sort.Slice(b.Positions, func(i, j int) bool { return b.Positions[i].Symbol < b.Positions[j].Symbol })
	return b
}

// record must be called with p.mu held.
func (p *Connector) record(symbol string, side common.Side, typ common.OrderType, amount, price float64, params common.OrderParams) common.Order {
	o := common.Order{
		ID:        "paper-" + uuid.NewString(),
		ClientID:  params.ClientID,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Amount:    amount,
		Price:     price,
		Status:    common.StatusOpen,
		Timestamp: time.Now(),
	}
	p.orders = append(p.orders, o)
	return o
}

// fill must be called with p.mu held. An opposite fill larger than the
// position flips it at the fill price.
func (p *Connector) fill(o common.Order) {
	p.orders[len(p.orders)-1] = o
	qty := decimal.NewFromFloat(o.Filled)
	price := decimal.NewFromFloat(o.Average)
	p.fees = decimal.NewFromFloat(p.fees).Add(qty.Mul(price).Mul(decimal.NewFromFloat(p.cfg.FeeRate))).InexactFloat64()

	pos, exists := p.positions[o.Symbol]
	switch {
	case !exists:
		pos = &Position{Symbol: o.Symbol, Side: o.Side, Quantity: o.Filled, EntryPrice: o.Average}
		p.positions[o.Symbol] = pos
	case pos.Side == o.Side:
		held := decimal.NewFromFloat(pos.Quantity)
		total := held.Mul(decimal.NewFromFloat(pos.EntryPrice)).Add(qty.Mul(price))
		sum := held.Add(qty)
		pos.Quantity = sum.InexactFloat64()
		pos.EntryPrice = total.Div(sum).InexactFloat64()
	default:
		rest := decimal.NewFromFloat(pos.Quantity).Sub(qty)
		switch rest.Sign() {
		case 0:
			delete(p.positions, o.Symbol)
			pos = nil
		case 1:
			pos.Quantity = rest.InexactFloat64()
		default:
			pos.Side = o.Side
			pos.Quantity = rest.Neg().InexactFloat64()
			pos.EntryPrice = o.Average
		}
	}

	attrs := []any{"order_id", o.ID, "symbol", o.Symbol, "side", o.Side, "qty", o.Filled, "price", o.Average, "fees_total", p.fees}
	if pos != nil {
		attrs = append(attrs, "position_side", pos.Side, "position_qty", pos.Quantity, "position_entry", pos.EntryPrice)
	} else {
		attrs = append(attrs, "position_qty", 0)
	}
	p.logger.Info("paper fill", attrs...)
}
