// Package spot is the Binance spot connector.
package spot

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	bn "tv-executor/pkg/exchanges/binance"
	"tv-executor/pkg/exchanges/common"
)

// Client is a Binance spot trading connector.
type Client struct {
	api    *gobinance.Client
	book   *common.MarketBook
	logger *slog.Logger
}

func New(cfg bn.Config) *Client {
	if cfg.Testnet {
		gobinance.UseTestnet = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		api:    gobinance.NewClient(cfg.APIKey, cfg.APISecret),
		logger: logger.With("exchange", bn.ExchangeID, "market", common.MarketSpot),
	}
	c.book = common.NewMarketBook(bn.ExchangeID, cfg.MaxRetries, c.logger, c.fetchInstruments)
	return c
}

// SetBaseURL points the client at another endpoint.
func (c *Client) SetBaseURL(u string) { c.api.BaseURL = u }

func (c *Client) ID() string                { return bn.ExchangeID }
func (c *Client) Market() common.MarketType { return common.MarketSpot }

// LoadMarkets syncs the server clock and loads LOT_SIZE/PRICE_FILTER rules.
func (c *Client) LoadMarkets(ctx context.Context) error {
	if c.book.Loaded() {
		return nil
	}
	if _, err := c.api.NewSetServerTimeService().Do(ctx); err != nil {
		c.logger.Warn("server time sync failed", "error", err)
	}
	return c.book.Load(ctx)
}

func (c *Client) fetchInstruments(ctx context.Context) ([]common.Instrument, error) {
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, bn.MapError(err)
	}
	out := make([]common.Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		step, minQty, tick := bn.Filters(s.Filters)
		out = append(out, common.Instrument{
			Symbol:     s.BaseAsset + "/" + s.QuoteAsset,
			ID:         s.Symbol,
			Base:       s.BaseAsset,
			Quote:      s.QuoteAsset,
			AmountStep: step,
			MinAmount:  minQty,
			PriceTick:  tick,
		})
	}
	return out, nil
}

func (c *Client) AmountToPrecision(symbol string, amount float64) (float64, error) {
	return c.book.AmountToPrecision(symbol, amount)
}

func (c *Client) PriceToPrecision(symbol string, price float64) (float64, error) {
	return c.book.PriceToPrecision(symbol, price)
}

// FetchTicker returns the latest traded price.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	prices, err := c.api.NewListPricesService().Symbol(bn.Symbol(symbol)).Do(ctx)
	if err != nil {
		return common.Ticker{}, bn.MapError(err)
	}
	if len(prices) == 0 {
		return common.Ticker{}, common.NewBrokerError(bn.ExchangeID, common.ClassBadResponse, "", "empty ticker response for "+symbol)
	}
	return common.Ticker{Symbol: symbol, Last: bn.ParseFloat(prices[0].Price)}, nil
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, amount float64, params common.OrderParams) (common.Order, error) {
	return c.CreateOrder(ctx, common.OrderRequest{Symbol: symbol, Type: common.OrderTypeMarket, Side: side, Amount: amount, Params: params})
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side common.Side, amount, price float64, params common.OrderParams) (common.Order, error) {
	return c.CreateOrder(ctx, common.OrderRequest{Symbol: symbol, Type: common.OrderTypeLimit, Side: side, Amount: amount, Price: price, Params: params})
}

// CreateStopOrder places a STOP_LOSS order. Spot has no reduce-only flag; the
// order sells (or buys back) exactly the requested amount.
func (c *Client) CreateStopOrder(ctx context.Context, req common.StopOrderRequest) (common.Order, error) {
	return c.CreateOrder(ctx, common.OrderRequest{
		Symbol: req.Symbol,
		Type:   common.OrderTypeStopMarket,
		Side:   req.Side,
		Amount: req.Amount,
		Params: common.OrderParams{ClientID: req.ClientID, StopPrice: req.StopPrice},
	})
}

// CreateOrder places an order.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	svc := c.api.NewCreateOrderService().
		Symbol(bn.Symbol(req.Symbol)).
		Side(toSide(req.Side)).
		Quantity(common.FormatDecimal(req.Amount))

	switch req.Type {
	case common.OrderTypeLimit:
		svc = svc.Type(gobinance.OrderTypeLimit).
			TimeInForce(gobinance.TimeInForceTypeGTC).
			Price(common.FormatDecimal(req.Price))
	case common.OrderTypeStopMarket:
		svc = svc.Type(gobinance.OrderTypeStopLoss).
			StopPrice(common.FormatDecimal(req.Params.StopPrice))
	default:
		svc = svc.Type(gobinance.OrderTypeMarket)
	}
	if req.Params.ClientID != "" {
		svc = svc.NewClientOrderID(req.Params.ClientID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return common.Order{}, bn.MapError(err)
	}
	filled := bn.ParseFloat(res.ExecutedQuantity)
	return common.Order{
		ID:        strconv.FormatInt(res.OrderID, 10),
		ClientID:  res.ClientOrderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    bn.ParseFloat(res.OrigQuantity),
		Filled:    filled,
		Average:   average(res.CummulativeQuoteQuantity, filled),
		Price:     bn.ParseFloat(res.Price),
		Status:    bn.MapStatus(string(res.Status)),
		Timestamp: time.UnixMilli(res.TransactTime),
	}, nil
}

// average derives the fill price from the cumulative quote quantity.
func average(cumQuote string, filled float64) float64 {
	if filled <= 0 {
		return 0
	}
	quote, err := decimal.NewFromString(cumQuote)
	if err != nil {
		return 0
	}
	return quote.Div(decimal.NewFromFloat(filled)).InexactFloat64()
}

func toSide(s common.Side) gobinance.SideType {
	if s == common.SideSell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}
