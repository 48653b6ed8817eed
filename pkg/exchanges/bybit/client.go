// Package bybit is a connector for the Bybit v5 unified API, spot and linear
// perpetual categories.
package bybit

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

	"tv-executor/pkg/exchanges/common"
)

const (
	ExchangeID = "bybit"

	mainnetURL = "https://api.bybit.com"
	testnetURL = "https://api-testnet.bybit.com"
)

// Config holds Bybit credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
	MaxRetries int
	BaseURL    string // overrides the mainnet/testnet endpoint
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a Bybit connector bound to one market.
type Client struct {
	cfg         Config
	market      common.MarketType
	category    string
	baseURL     string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	book        *common.MarketBook
	logger      *slog.Logger
}

// New creates a connector for market (spot or swap).
func New(cfg Config, market common.MarketType) *Client {
	base := mainnetURL
	if cfg.Testnet {
		base = testnetURL
	}
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = common.DefaultHTTPClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	category := "spot"
	if market == common.MarketSwap {
		category = "linear"
	}
	c := &Client{
		cfg:        cfg,
		market:     market,
		category:   category,
		baseURL:    base,
		httpClient: cfg.HTTPClient,
		logger:     logger.With("exchange", ExchangeID, "market", market),
	}
	c.timeSync = common.NewTimeSync(c.serverTime)
	c.rateLimiter = common.NewRateLimiter(ExchangeID, 600, 5*time.Second)
	c.book = common.NewMarketBook(ExchangeID, cfg.MaxRetries, c.logger, c.fetchInstruments)
	return c
}

func (c *Client) ID() string                { return ExchangeID }
func (c *Client) Market() common.MarketType { return c.market }

// LoadMarkets syncs the clock and loads instrument filters.
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
	var out []common.Instrument
	cursor := ""
	for {
		q := url.Values{}
		q.Set("category", c.category)
		q.Set("limit", "1000")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page instrumentsResult
		if err := c.doPublic(ctx, "/v5/market/instruments-info", q, &page); err != nil {
			return nil, err
		}
		for _, in := range page.List {
			if in.Status != "" && in.Status != "Trading" {
				continue
			}
			out = append(out, in.instrument(c.market))
		}
		if page.NextPageCursor == "" || len(page.List) == 0 {
			return out, nil
		}
		cursor = page.NextPageCursor
	}
}

// FetchTicker returns the last traded price. Close stays zero: the only
// other price on the v5 ticker common to every category is a day old.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", venueSymbol(symbol))
	var res tickersResult
	if err := c.doPublic(ctx, "/v5/market/tickers", q, &res); err != nil {
		return common.Ticker{}, err
	}
	if len(res.List) == 0 {
		return common.Ticker{}, common.NewBrokerError(ExchangeID, common.ClassBadSymbol, "", "no ticker for "+symbol)
	}
	t := res.List[0]
	return common.Ticker{Symbol: symbol, Last: parseFloat(t.LastPrice)}, nil
}

// SetLeverage sets symmetric buy/sell leverage on a linear contract.
func (c *Client) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	if c.market != common.MarketSwap {
		return common.NewBrokerError(ExchangeID, common.ClassNotSupported, "", "leverage is only available for derivatives")
	}
	lev := strconv.Itoa(leverage)
	body := map[string]string{
		"category":     c.category,
		"symbol":       venueSymbol(symbol),
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	err := c.doSigned(ctx, http.MethodPost, "/v5/position/set-leverage", nil, body, nil)
	if isCode(err, codeLeverageNotModified) {
		return nil
	}
	return err
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side common.Side, amount float64, params common.OrderParams) (common.Order, error) {
	return c.CreateOrder(ctx, common.OrderRequest{Symbol: symbol, Type: common.OrderTypeMarket, Side: side, Amount: amount, Params: params})
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side common.Side, amount, price float64, params common.OrderParams) (common.Order, error) {
	return c.CreateOrder(ctx, common.OrderRequest{Symbol: symbol, Type: common.OrderTypeLimit, Side: side, Amount: amount, Price: price, Params: params})
}

// CreateStopOrder places a conditional market order that triggers when price
// crosses StopPrice against the position.
func (c *Client) CreateStopOrder(ctx context.Context, req common.StopOrderRequest) (common.Order, error) {
	return c.CreateOrder(ctx, common.OrderRequest{
		Symbol: req.Symbol,
		Type:   common.OrderTypeStopMarket,
		Side:   req.Side,
		Amount: req.Amount,
		Params: common.OrderParams{ClientID: req.ClientID, ReduceOnly: req.ReduceOnly, StopPrice: req.StopPrice},
	})
}

// CreateOrder places an order and reads back its execution state.
func (c *Client) CreateOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	body := map[string]any{
		"category": c.category,
		"symbol":   venueSymbol(req.Symbol),
		"side":     toSide(req.Side),
		"qty":      common.FormatDecimal(req.Amount),
	}
	switch req.Type {
	case common.OrderTypeLimit:
		body["orderType"] = "Limit"
		body["price"] = common.FormatDecimal(req.Price)
		body["timeInForce"] = "GTC"
	case common.OrderTypeStopMarket:
		body["orderType"] = "Market"
		body["triggerPrice"] = common.FormatDecimal(req.Params.StopPrice)
		// A sell stop protects a long and fires on a fall.
		if req.Side == common.SideSell {
			body["triggerDirection"] = 2
		} else {
			body["triggerDirection"] = 1
		}
		if c.market == common.MarketSpot {
			body["orderFilter"] = "StopOrder"
		}
	default:
		body["orderType"] = "Market"
	}
	if c.market == common.MarketSpot && body["orderType"] == "Market" {
		body["marketUnit"] = "baseCoin"
	}
	if req.Params.ReduceOnly && c.market == common.MarketSwap {
		body["reduceOnly"] = true
	}
	if req.Params.ClientID != "" {
		body["orderLinkId"] = req.Params.ClientID
	}

	var ack orderAck
	if err := c.doSigned(ctx, http.MethodPost, "/v5/order/create", nil, body, &ack); err != nil {
		return common.Order{}, err
	}
	order := common.Order{
		ID:        ack.OrderID,
		ClientID:  ack.OrderLinkID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Price:     req.Price,
		Status:    common.StatusOpen,
		Timestamp: time.UnixMilli(c.timeSync.Now()),
	}
	if req.Type == common.OrderTypeStopMarket {
		return order, nil
	}

	detail, err := c.fetchOrder(ctx, req.Symbol, ack.OrderID)
	if err != nil {
		c.logger.Warn("order placed but status lookup failed", "order_id", ack.OrderID, "error", err)
		return order, nil
	}
	return detail.apply(order), nil
}

func (c *Client) fetchOrder(ctx context.Context, symbol, orderID string) (orderDetail, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", venueSymbol(symbol))
	q.Set("orderId", orderID)
	var res struct {
		List []orderDetail `json:"list"`
	}
	if err := c.doSigned(ctx, http.MethodGet, "/v5/order/realtime", q, nil, &res); err != nil {
		return orderDetail{}, err
	}
	if len(res.List) == 0 {
		return orderDetail{}, common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", "order "+orderID+" not found")
	}
	return res.List[0], nil
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	var res struct {
		TimeSecond string `json:"timeSecond"`
		TimeNano   string `json:"timeNano"`
	}
	if err := c.doPublic(ctx, "/v5/market/time", nil, &res); err != nil {
		return 0, err
	}
	nanos, err := strconv.ParseInt(res.TimeNano, 10, 64)
	if err != nil {
		return 0, common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", "invalid server time "+res.TimeNano)
	}
	return nanos / int64(time.Millisecond), nil
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
	return c.send(req, out)
}

// doSigned signs timestamp+key+recvWindow+payload, where payload is the query
// string for GET and the JSON body otherwise.
func (c *Client) doSigned(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.NewBrokerError(ExchangeID, common.ClassAuthentication, "", "API key/secret required")
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return common.Transport(ExchangeID, err)
	}

	var payload []byte
	endpoint := c.baseURL + path
	if method == http.MethodGet {
		payload = []byte(query.Encode())
		if len(payload) > 0 {
			endpoint += "?" + string(payload)
		}
	} else {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	ts := strconv.FormatInt(c.timeSync.Now(), 10)
	recv := strconv.FormatInt(c.cfg.RecvWindow, 10)
	sig := common.SignHex(ts+c.cfg.APIKey+recv+string(payload), c.cfg.APISecret)

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recv)
	req.Header.Set("X-BAPI-SIGN", sig)
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	res, err := common.Do(c.httpClient, ExchangeID, req)
	if err != nil {
		return err
	}
	c.trackLimit(res.Header)

	var env envelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		if res.Status >= 300 {
			return common.StatusError(ExchangeID, res)
		}
		return common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", fmt.Sprintf("decode %s: %v", req.URL.Path, err))
	}
	if env.RetCode != 0 {
		return mapError(env.RetCode, env.RetMsg)
	}
	if res.Status >= 300 {
		return common.StatusError(ExchangeID, res)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return common.NewBrokerError(ExchangeID, common.ClassBadResponse, "", fmt.Sprintf("decode %s result: %v", req.URL.Path, err))
	}
	return nil
}

// trackLimit feeds X-Bapi-Limit / X-Bapi-Limit-Status into the limiter.
func (c *Client) trackLimit(h http.Header) {
	limit, err1 := strconv.Atoi(h.Get("X-Bapi-Limit"))
	remaining, err2 := strconv.Atoi(h.Get("X-Bapi-Limit-Status"))
	if err1 != nil || err2 != nil || limit <= 0 {
		return
	}
	c.rateLimiter.Observe(limit - remaining)
}

func toSide(s common.Side) string {
	if s == common.SideSell {
		return "Sell"
	}
	return "Buy"
}

func venueSymbol(unified string) string {
	base, quote, _ := common.SplitSymbol(unified)
	return base + quote
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
