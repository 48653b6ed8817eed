package spot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	bn "tv-executor/pkg/exchanges/binance"
	"tv-executor/pkg/exchanges/common"
)

type fakeBinance struct {
	t       *testing.T
	mu      sync.Mutex
	created []url.Values
}

func (f *fakeBinance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	write := func(status int, v any) {
		b, _ := json.Marshal(v)
		w.WriteHeader(status)
		w.Write(b)
	}
	switch r.URL.Path {
	case "/api/v3/time":
		write(http.StatusOK, map[string]int64{"serverTime": time.Now().UnixMilli()})
	case "/api/v3/exchangeInfo":
		write(http.StatusOK, map[string]any{"symbols": []map[string]any{{
			"symbol": "BTCUSDT", "baseAsset": "BTC", "quoteAsset": "USDT", "status": "TRADING",
			"filters": []map[string]string{
				{"filterType": "LOT_SIZE", "stepSize": "0.00001000", "minQty": "0.00001000"},
				{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
			},
		}}})
	case "/api/v3/ticker/price":
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			f.t.Errorf("ticker symbol=%q", r.URL.Query().Get("symbol"))
		}
		write(http.StatusOK, map[string]string{"symbol": "BTCUSDT", "price": "50000.50"})
	case "/api/v3/order":
		form := f.verify(r)
		f.mu.Lock()
		f.created = append(f.created, form)
		f.mu.Unlock()
		if form.Get("quantity") == "999" {
			write(http.StatusBadRequest, map[string]any{"code": -2010, "msg": "Account has insufficient balance for requested action."})
			return
		}
		res := map[string]any{
			"symbol": "BTCUSDT", "orderId": 101, "clientOrderId": form.Get("newClientOrderId"),
			"origQty": form.Get("quantity"), "price": "0.00000000", "transactTime": 1700000000000,
			"executedQty": "0.00000000", "cummulativeQuoteQty": "0.00000000", "status": "NEW",
		}
		switch form.Get("type") {
		case "MARKET":
			res["executedQty"] = "0.50000000"
			res["cummulativeQuoteQty"] = "25000.25000000"
			res["status"] = "FILLED"
		case "LIMIT":
			res["price"] = form.Get("price")
		}
		write(http.StatusOK, res)
	default:
		http.NotFound(w, r)
	}
}

// verify checks the HMAC signature over query and body and returns the form.
func (f *fakeBinance) verify(r *http.Request) url.Values {
	f.t.Helper()
	body, _ := io.ReadAll(r.Body)
	query, sig, ok := strings.Cut(r.URL.RawQuery, "&signature=")
	if !ok || sig != common.SignHex(query+string(body), "secret") || r.Header.Get("X-MBX-APIKEY") != "key" {
		f.t.Errorf("bad signature for %s", r.URL.Path)
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		f.t.Errorf("parse form: %v", err)
	}
	return form
}

func (f *fakeBinance) last() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		f.t.Fatal("no order was created")
	}
	return f.created[len(f.created)-1]
}

func newTestClient(t *testing.T) (*Client, *fakeBinance) {
	t.Helper()
	fake := &fakeBinance{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c := New(bn.Config{APIKey: "key", APISecret: "secret", MaxRetries: 1, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	c.SetBaseURL(srv.URL)
	return c, fake
}

func TestLoadMarketsAndPrecision(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.LoadMarkets(context.Background()); err != nil {
		t.Fatalf("LoadMarkets returned error: %v", err)
	}
	amount, err := c.AmountToPrecision("BTC/USDT", 0.123456789)
	if err != nil || amount != 0.12345 {
		t.Fatalf("AmountToPrecision=%v, %v; expected 0.12345", amount, err)
	}
	price, err := c.PriceToPrecision("BTC/USDT", 50000.126)
	if err != nil || price != 50000.13 {
		t.Fatalf("PriceToPrecision=%v, %v; expected 50000.13", price, err)
	}
}

func TestFetchTicker(t *testing.T) {
	c, _ := newTestClient(t)
	tk, err := c.FetchTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchTicker returned error: %v", err)
	}
	if tk.Last != 50000.5 || tk.Reference() != 50000.5 {
		t.Fatalf("unexpected ticker: %+v", tk)
	}
}

func TestMarketOrderAveragesQuoteQuantity(t *testing.T) {
	c, fake := newTestClient(t)
	o, err := c.CreateMarketOrder(context.Background(), "BTC/USDT", common.SideBuy, 0.5, common.OrderParams{ClientID: "cid-1"})
	if err != nil {
		t.Fatalf("CreateMarketOrder returned error: %v", err)
	}
	form := fake.last()
	if form.Get("symbol") != "BTCUSDT" || form.Get("side") != "BUY" || form.Get("type") != "MARKET" ||
		form.Get("quantity") != "0.5" || form.Get("newClientOrderId") != "cid-1" {
		t.Fatalf("unexpected request: %v", form)
	}
	if o.ID != "101" || o.ClientID != "cid-1" || o.Filled != 0.5 || o.Average != 50000.5 || o.Status != common.StatusClosed {
		t.Fatalf("unexpected order: %+v", o)
	}
	if !o.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("Timestamp=%s", o.Timestamp)
	}
}

func TestLimitOrderRests(t *testing.T) {
	c, fake := newTestClient(t)
	o, err := c.CreateLimitOrder(context.Background(), "BTC/USDT", common.SideSell, 0.25, 50050.1, common.OrderParams{})
	if err != nil {
		t.Fatalf("CreateLimitOrder returned error: %v", err)
	}
	form := fake.last()
	if form.Get("type") != "LIMIT" || form.Get("timeInForce") != "GTC" || form.Get("price") != "50050.1" || form.Get("side") != "SELL" {
		t.Fatalf("unexpected request: %v", form)
	}
	if o.Status != common.StatusOpen || o.Filled != 0 || o.Average != 0 || o.Price != 50050.1 {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestStopOrderUsesStopLoss(t *testing.T) {
	c, fake := newTestClient(t)
	o, err := c.CreateStopOrder(context.Background(), common.StopOrderRequest{
		Symbol: "BTC/USDT", Side: common.SideSell, Amount: 0.5, StopPrice: 49000, ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("CreateStopOrder returned error: %v", err)
	}
	form := fake.last()
	if form.Get("type") != "STOP_LOSS" || form.Get("stopPrice") != "49000" || form.Get("side") != "SELL" || form.Get("quantity") != "0.5" {
		t.Fatalf("unexpected request: %v", form)
	}
	if form.Has("reduceOnly") || form.Has("price") {
		t.Fatalf("spot stop must not carry reduceOnly or price: %v", form)
	}
	if o.Type != common.OrderTypeStopMarket || o.Status != common.StatusOpen {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestOrderRejectionIsClassified(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.CreateMarketOrder(context.Background(), "BTC/USDT", common.SideBuy, 999, common.OrderParams{})
	if common.ClassOf(err) != common.ClassInsufficientFunds {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	var be *common.BrokerError
	if !errors.As(err, &be) || be.Code != "-2010" || be.Exchange != "binance" {
		t.Fatalf("unexpected broker error: %#v", err)
	}
}
