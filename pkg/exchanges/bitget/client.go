// Package bitget is a connector for the Bitget v2 API. Spot and USDT/USDC
// margined futures ("mix") are served by separate types because only the mix
// market supports leverage and plan (trigger) orders.
package bitget

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"tv-executor/pkg/exchanges/common"
)

const (
	ExchangeID = "bitget"

	defaultURL = "https://api.bitget.com"
	codeOK     = "00000"
)

// Config holds Bitget credentials. The passphrase is optional at
// configuration time; requests without it are rejected by the venue.
type Config struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Testnet    bool // demo trading
	MaxRetries int
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the spot connector and the shared transport for MixClient.
type Client struct {
	cfg         Config
	market      common.MarketType
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	book        *common.MarketBook
	logger      *slog.Logger
}

// MixClient is the USDT/USDC-M perpetual connector.
type MixClient struct {
	*Client
}

// New returns the connector for market.
func New(cfg Config, market common.MarketType) common.Connector {
	c := newClient(cfg, market)
	if market == common.MarketSwap {
		return &MixClient{Client: c}
	}
	return c
}

func newClient(cfg Config, market common.MarketType) *Client {
	base := defaultURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = common.DefaultHTTPClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:        cfg,
		market:     market,
		baseURL:    base,
		httpClient: cfg.HTTPClient,
		logger:     logger.With("exchange", ExchangeID, "market", market),
	}
	c.timeSync = common.NewTimeSync(c.serverTime)
	c.rateLimiter = common.NewRateLimiter(ExchangeID, 10, time.Second)
	c.book = common.NewMarketBook(ExchangeID, cfg.MaxRetries, c.logger, c.fetchInstruments)
	return c
}

func (c *Client) ID() string                { return ExchangeID }
func (c *Client) Market() common.MarketType { return c.market }

// LoadMarkets syncs the clock and loads symbol precision.
func (c *Client) LoadMarkets(ctx context.Context) error {
	if c.book.Loaded() {
		return nil
	}
	if !c.timeSync.Synced() {
		if err := c.timeSync.Sync(ctx); err != nil {
			c.logger.Warn("server time sync failed", "error", err)
		}
	}
	return c.book.Load(ctx)
}

func (c *Client) AmountToPrecision(symbol string, amount float64) (float64, error) {
	return c.book.AmountToPrecision(symbol, amount)
}

func (c *Client) PriceToPrecision(symbol string, price float64) (float64, error) {
	return c.book.PriceToPrecision(symbol, price)
}

func (c *Client) fetchInstruments(ctx context.Context) ([]common.Instrument, error) {
	if c.market == common.MarketSwap {
		var out []common.Instrument
		for _, pt := range []string{"USDT-FUTURES", "USDC-FUTURES"} {
			q := url.Values{}
			q.Set("productType", pt)
			var list []contractInfo
			if err := c.doPublic(ctx, "/api/v2/mix/market/contracts", q, &list); err != nil {
				return nil, err
			}
			for _, in := range list {
				if in.SymbolStatus != "" && in.SymbolStatus != "normal" {
					continue
				}
				out = append(out, in.instrument())
			}
		}
		return out, nil
	}
	var list []spotSymbol
	if err := c.doPublic(ctx, "/api/v2/spot/public/symbols", nil, &list); err != nil {
		return nil, err
	}
	out := make([]common.Instrument, 0, len(list))
	for _, in := range list {
		if in.Status != "" && in.Status != "online" {
			continue
		}
		out = append(out, in.instrument())
	}
	return out, nil
}

// FetchTicker returns the last traded price and the day open.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	q := url.Values{}
	q.Set("symbol", venueSymbol(symbol))
	path := "/api/v2/spot/market/tickers"
	if c.market == common.MarketSwap {
		q.Set("productType", productType(symbol))
		path = "/api/v2/mix/market/ticker"
	}
	var data []struct {
		Symbol string `json:"symbol"`
		LastPr string `json:"lastPr"`
		Open   string `json:"open"`
	}
	if err := c.doPublic(ctx, path, q, &data); err != nil {
		return common.Ticker{}, err
	}
	if len(data) == 0 {
		return common.Ticker{}, common.NewBrokerError(ExchangeID, common.ClassBadSymbol, "", "no ticker for "+symbol)
	}
	last := parseFloat(data[0].LastPr)
	return common.Ticker{Symbol: symbol, Last: last, Close: last}, nil
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, amount float64, params common.OrderParams) (common.Order, error) {
	return c.place(ctx, common.OrderRequest{Symbol: symbol, Type: common.OrderTypeMarket, Side: side, Amount: amount, Params: params})
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side common.Side, amount, price float64, params common.OrderParams) (common.Order, error) {
	return c.place(ctx, common.OrderRequest{Symbol: symbol, Type: common.OrderTypeLimit, Side: side, Amount: amount, Price: price, Params: params})
}

func (c *Client) place(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	body := map[string]any{
		"symbol":    venueSymbol(req.Symbol),
		"side":      string(req.Side),
		"orderType": string(req.Type),
		"size":      common.FormatDecimal(req.Amount),
	}
	path := "/api/v2/spot/trade/place-order"
	if c.market == common.MarketSwap {
		path = "/api/v2/mix/order/place-order"
		c.mixFields(body, req.Symbol, req.Params.ReduceOnly)
	} else if req.Type == common.OrderTypeMarket && req.Side == common.SideBuy {
		// Spot market buys are sized in quote currency.
		cost, err := c.quoteCost(ctx, req.Symbol, req.Amount)
		if err != nil {
			return common.Order{}, err
		}
		body["size"] = cost
	}
	if req.Type == common.OrderTypeLimit {
		body["price"] = common.FormatDecimal(req.Price)
		body["force"] = "gtc"
	}
	if req.Params.ClientID != "" {
		body["clientOid"] = req.Params.ClientID
	}

	var ack orderAck
	if err := c.doSigned(ctx, http.MethodPost, path, nil, body, &ack); err != nil {
		return common.Order{}, err
	}
	order := common.Order{
		ID:        ack.OrderID,
		ClientID:  ack.ClientOid,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Price:     req.Price,
		Status:    common.StatusOpen,
		Timestamp: time.UnixMilli(c.timeSync.Now()),
	}
	detail, err := c.fetchOrder(ctx, req.Symbol, ack.OrderID)
	if err != nil {
		c.logger.Warn("order placed but status lookup failed", "order_id", ack.OrderID, "error", err)
		return order, nil
	}
	return detail.apply(order), nil
}

func (c *Client) mixFields(body map[string]any, symbol string, reduceOnly bool) {
	_, _, settle := common.SplitSymbol(symbol)
	body["productType"] = productType(symbol)
	body["marginMode"] = "crossed"
	body["marginCoin"] = settle
	if reduceOnly {
		body["reduceOnly"] = "YES"
	}
}

func (c *Client) quoteCost(ctx context.Context, symbol string, amount float64) (string, error) {
	tk, err := c.FetchTicker(ctx, symbol)
	if err != nil {
		return "", err
	}
	if tk.Reference() <= 0 {
		return "", common.NewBrokerError(ExchangeID, common.ClassInvalidOrder, "", "cannot price market buy for "+symbol)
	}
	cost := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(tk.Reference()))
	if in, err := c.book.Instrument(symbol); err == nil && in.PriceTick.IsPositive() {
		cost = cost.Round(int32(-in.PriceTick.Exponent()))
	}
	return cost.String(), nil
}

func (c *Client) fetchOrder(ctx context.Context, symbol, orderID string) (orderDetail, error) {
	q := url.Values{}
	q.Set("orderId", orderID)
	if c.market == common.MarketSwap {
		q.Set("symbol", venueSymbol(symbol))
		q.Set("productType", productType(symbol))
		var d orderDetail
		err := c.doSigned(ctx, http.MethodGet, "/api/v2/mix/order/detail", q, nil, &d)
		return d, err
	}
	var list []orderDetail
	if err := c.doSigned(ctx, http.MethodGet, "/api/v2/spot/trade/orderInfo", q, nil, &list); err != nil {
		return orderDetail{}, err
	}
	if len(list) == 0 {
		return orderDetail{}, common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", "order "+orderID+" not found")
	}
	return list[0], nil
}

// SetLeverage sets leverage for the symbol's margin coin.
func (m *MixClient) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	_, _, settle := common.SplitSymbol(symbol)
	body := map[string]string{
		"symbol":      venueSymbol(symbol),
		"productType": productType(symbol),
		"marginCoin":  settle,
		"leverage":    strconv.Itoa(leverage),
	}
	return m.doSigned(ctx, http.MethodPost, "/api/v2/mix/account/set-leverage", nil, body, nil)
}

// CreateOrder is the generic order primitive; stop-market requests become
// plan orders triggered by mark price.
func (m *MixClient) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if req.Type != common.OrderTypeStopMarket {
		return m.place(ctx, req)
	}
	body := map[string]any{
		"planType":     "normal_plan",
		"symbol":       venueSymbol(req.Symbol),
		"side":         string(req.Side),
		"orderType":    "market",
		"size":         common.FormatDecimal(req.Amount),
		"triggerPrice": common.FormatDecimal(req.Params.StopPrice),
		"triggerType":  "mark_price",
	}
	m.mixFields(body, req.Symbol, req.Params.ReduceOnly)
	if req.Params.ClientID != "" {
		body["clientOid"] = req.Params.ClientID
	}
	var ack orderAck
	if err := m.doSigned(ctx, http.MethodPost, "/api/v2/mix/order/place-plan-order", nil, body, &ack); err != nil {
		return common.Order{}, err
	}
	return common.Order{
		ID:        ack.OrderID,
		ClientID:  ack.ClientOid,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      common.OrderTypeStopMarket,
		Amount:    req.Amount,
		Price:     req.Params.StopPrice,
		Status:    common.StatusOpen,
		Timestamp: time.UnixMilli(m.timeSync.Now()),
	}, nil
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	var data struct {
		ServerTime string `json:"serverTime"`
	}
	if err := c.doPublic(ctx, "/api/v2/public/time", nil, &data); err != nil {
		return 0, err
	}
	return strconv.ParseInt(data.ServerTime, 10, 64)
}

func (c *Client) doPublic(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.cfg.Testnet {
		req.Header.Set("paptrading", "1")
	}
	return c.send(req, out)
}

// doSigned signs timestamp+METHOD+path[?query]+body with base64 HMAC-SHA256.
func (c *Client) doSigned(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.NewBrokerError(ExchangeID, common.ClassAuthentication, "", "API key/secret required")
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return common.Transport(ExchangeID, err)
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	var payload []byte
	var bodyReader io.Reader
	if method != http.MethodGet {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
		bodyReader = bytes.NewReader(payload)
	}

	ts := strconv.FormatInt(c.timeSync.Now(), 10)
	sig := common.SignBase64(ts+method+requestPath+string(payload), c.cfg.APISecret)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")
	req.Header.Set("ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("ACCESS-SIGN", sig)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-PASSPHRASE", c.cfg.Passphrase)
	if c.cfg.Testnet {
		req.Header.Set("paptrading", "1")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	res, err := common.Do(c.httpClient, ExchangeID, req)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		if res.Status >= 300 {
			return common.StatusError(ExchangeID, res)
		}
		return common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", fmt.Sprintf("decode %s: %v", req.URL.Path, err))
	}
	if env.Code != codeOK && env.Code != "" {
		return mapError(env.Code, env.Msg)
	}
	if res.Status >= 300 {
		return common.StatusError(ExchangeID, res)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", fmt.Sprintf("decode %s data: %v", req.URL.Path, err))
	}
	return nil
}
