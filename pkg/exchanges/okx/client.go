// Package okx is a connector for the OKX v5 API, spot and perpetual swaps.
package okx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"tv-executor/pkg/exchanges/common"
)

const (
	ExchangeID = "okx"

	defaultURL = "https://www.okx.com"
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// Config holds OKX credentials. The passphrase is chosen when the API key is
// created and is mandatory.
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

// Client is an OKX connector bound to one market.
type Client struct {
	cfg         Config
	market      common.MarketType
	instType    string
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	book        *common.MarketBook
	logger      *slog.Logger
}

// New creates a connector for market (spot or swap).
func New(cfg Config, market common.MarketType) *Client {
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
	instType := "SPOT"
	if market == common.MarketSwap {
		instType = "SWAP"
	}
	c := &Client{
		cfg:        cfg,
		market:     market,
		instType:   instType,
		baseURL:    base,
		httpClient: cfg.HTTPClient,
		logger:     logger.With("exchange", ExchangeID, "market", market),
	}
	c.timeSync = common.NewTimeSync(c.serverTime)
	c.rateLimiter = common.NewRateLimiter(ExchangeID, 60, 2*time.Second)
	c.book = common.NewMarketBook(ExchangeID, cfg.MaxRetries, c.logger, c.fetchInstruments)
	return c
}

func (c *Client) ID() string                { return ExchangeID }
func (c *Client) Market() common.MarketType { return c.market }

// LoadMarkets syncs the clock and loads instruments, including contract values.
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

// AmountToPrecision rounds a base amount down to whole lots; for swaps a lot
// is expressed in contracts of ctVal base units.
func (c *Client) AmountToPrecision(symbol string, amount float64) (float64, error) {
	return c.book.AmountToPrecision(symbol, amount)
}

func (c *Client) PriceToPrecision(symbol string, price float64) (float64, error) {
	return c.book.PriceToPrecision(symbol, price)
}

func (c *Client) fetchInstruments(ctx context.Context) ([]common.Instrument, error) {
	q := url.Values{}
	q.Set("instType", c.instType)
	var list []instrumentInfo
	if err := c.doPublic(ctx, "/api/v5/public/instruments", q, &list); err != nil {
		return nil, err
	}
	out := make([]common.Instrument, 0, len(list))
	for _, in := range list {
		if in.State != "" && in.State != "live" {
			continue
		}
		out = append(out, in.instrument())
	}
	return out, nil
}

// FetchTicker returns the last traded price.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	q := url.Values{}
	q.Set("instId", c.instID(symbol))
	var data []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		Open   string `json:"open24h"`
	}
	if err := c.doPublic(ctx, "/api/v5/market/ticker", q, &data); err != nil {
		return common.Ticker{}, err
	}
	if len(data) == 0 {
		return common.Ticker{}, common.NewBrokerError(ExchangeID, common.ClassBadSymbol, "", "no ticker for "+symbol)
	}
	last := parseFloat(data[0].Last)
	return common.Ticker{Symbol: symbol, Last: last, Close: last}, nil
}

// SetLeverage sets cross-margin leverage for a swap instrument.
func (c *Client) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	if c.market != common.MarketSwap {
		return common.NewBrokerError(ExchangeID, common.ClassNotSupported, "", "leverage is only available for derivatives")
	}
	body := map[string]string{
		"instId":  c.instID(symbol),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "cross",
	}
	return c.doSigned(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, body, nil)
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, amount float64, params common.OrderParams) (common.Order, error) {
	return c.CreateOrder(ctx, common.OrderRequest{Symbol: symbol, Type: common.OrderTypeMarket, Side: side, Amount: amount, Params: params})
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side common.Side, amount, price float64, params common.OrderParams) (common.Order, error) {
	return c.CreateOrder(ctx, common.OrderRequest{Symbol: symbol, Type: common.OrderTypeLimit, Side: side, Amount: amount, Price: price, Params: params})
}

// CreateStopOrder places a conditional algo order with a market stop-loss leg.
func (c *Client) CreateStopOrder(ctx context.Context, req common.StopOrderRequest) (common.Order, error) {
	sz, err := c.size(req.Symbol, req.Amount)
	if err != nil {
		return common.Order{}, err
	}
	body := map[string]any{
		"instId":      c.instID(req.Symbol),
		"tdMode":      c.tdMode(),
		"side":        string(req.Side),
		"ordType":     "conditional",
		"sz":          sz,
		"slTriggerPx": common.FormatDecimal(req.StopPrice),
		"slOrdPx":     "-1",
	}
	if req.ReduceOnly && c.market == common.MarketSwap {
		body["reduceOnly"] = true
	}
	if req.ClientID != "" {
		body["algoClOrdId"] = req.ClientID
	}
	var data []algoAck
	if err := c.doSigned(ctx, http.MethodPost, "/api/v5/trade/order-algo", nil, body, &data); err != nil {
		return common.Order{}, err
	}
	if len(data) == 0 {
		return common.Order{}, common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", "empty algo order response")
	}
	if err := data[0].err(); err != nil {
		return common.Order{}, err
	}
	return common.Order{
		ID:        data[0].AlgoID,
		ClientID:  data[0].AlgoClOrdID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      common.OrderTypeStopMarket,
		Amount:    req.Amount,
		Price:     req.StopPrice,
		Status:    common.StatusOpen,
		Timestamp: time.UnixMilli(c.timeSync.Now()),
	}, nil
}

// CreateOrder places a market or limit order and reads back its state.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	if req.Type == common.OrderTypeStopMarket {
		return c.CreateStopOrder(ctx, common.StopOrderRequest{
			Symbol: req.Symbol, Side: req.Side, Amount: req.Amount,
			StopPrice: req.Params.StopPrice, ReduceOnly: req.Params.ReduceOnly, ClientID: req.Params.ClientID,
		})
	}
	sz, err := c.size(req.Symbol, req.Amount)
	if err != nil {
		return common.Order{}, err
	}
	body := map[string]any{
		"instId":  c.instID(req.Symbol),
		"tdMode":  c.tdMode(),
		"side":    string(req.Side),
		"ordType": string(req.Type),
		"sz":      sz,
	}
	if req.Type == common.OrderTypeLimit {
		body["px"] = common.FormatDecimal(req.Price)
	}
	if c.market == common.MarketSpot && req.Type == common.OrderTypeMarket {
		body["tgtCcy"] = "base_ccy"
	}
	if req.Params.ReduceOnly && c.market == common.MarketSwap {
		body["reduceOnly"] = true
	}
	if req.Params.ClientID != "" {
		body["clOrdId"] = req.Params.ClientID
	}

	var data []orderAck
	if err := c.doSigned(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &data); err != nil {
		return common.Order{}, err
	}
	if len(data) == 0 {
		return common.Order{}, common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", "empty order response")
	}
	if err := data[0].err(); err != nil {
		return common.Order{}, err
	}

	order := common.Order{
		ID:        data[0].OrdID,
		ClientID:  data[0].ClOrdID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Price:     req.Price,
		Status:    common.StatusOpen,
		Timestamp: time.UnixMilli(c.timeSync.Now()),
	}
	detail, err := c.fetchOrder(ctx, req.Symbol, order.ID)
	if err != nil {
		c.logger.Warn("order placed but status lookup failed", "order_id", order.ID, "error", err)
		return order, nil
	}
	return detail.apply(order, c.contractSize(req.Symbol)), nil
}

func (c *Client) fetchOrder(ctx context.Context, symbol, ordID string) (orderDetail, error) {
	q := url.Values{}
	q.Set("instId", c.instID(symbol))
	q.Set("ordId", ordID)
	var data []orderDetail
	if err := c.doSigned(ctx, http.MethodGet, "/api/v5/trade/order", q, nil, &data); err != nil {
		return orderDetail{}, err
	}
	if len(data) == 0 {
		return orderDetail{}, common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", "order "+ordID+" not found")
	}
	return data[0], nil
}

// size converts a base amount into the venue's sz field.
func (c *Client) size(symbol string, amount float64) (string, error) {
	in, err := c.book.Instrument(symbol)
	if err != nil {
		return "", err
	}
	return in.ToUnits(decimal.NewFromFloat(amount)).String(), nil
}

func (c *Client) contractSize(symbol string) decimal.Decimal {
	in, err := c.book.Instrument(symbol)
	if err != nil || in.ContractSize.IsZero() {
		return decimal.NewFromInt(1)
	}
	return in.ContractSize
}

func (c *Client) tdMode() string {
	if c.market == common.MarketSwap {
		return "cross"
	}
	return "cash"
}

// instID maps BTC/USDT to BTC-USDT and BTC/USDT:USDT to BTC-USDT-SWAP.
func (c *Client) instID(symbol string) string {
	if in, err := c.book.Instrument(symbol); err == nil {
		return in.ID
	}
	base, quote, settle := common.SplitSymbol(symbol)
	if settle != "" {
		return base + "-" + quote + "-SWAP"
	}
	return base + "-" + quote
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	var data []struct {
		Ts string `json:"ts"`
	}
	if err := c.doPublic(ctx, "/api/v5/public/time", nil, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", "empty server time")
	}
	return strconv.ParseInt(data[0].Ts, 10, 64)
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
		req.Header.Set("x-simulated-trading", "1")
	}
	return c.send(req, out)
}

// doSigned signs timestamp+method+requestPath+body with base64 HMAC-SHA256.
func (c *Client) doSigned(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" || c.cfg.Passphrase == "" {
		return common.NewBrokerError(ExchangeID, common.ClassAuthentication, "", "API key/secret/passphrase required")
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

	ts := time.UnixMilli(c.timeSync.Now()).UTC().Format(timeLayout)
	sig := common.SignBase64(ts+method+requestPath+string(payload), c.cfg.APISecret)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sig)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	if c.cfg.Testnet {
		req.Header.Set("x-simulated-trading", "1")
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
	if env.Code != "0" && env.Code != "" {
		// Batch-style endpoints report the real reason per item.
		var items []itemStatus
		if json.Unmarshal(env.Data, &items) == nil && len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			return mapError(items[0].SCode, items[0].SMsg)
		}
		return mapError(env.Code, env.Msg)
	}
	if res.Status >= 300 {
		return common.StatusError(ExchangeID, res)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", fmt.Sprintf("decode %s data: %v", req.URL.Path, err))
	}
	return nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
