package bybit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"tv-executor/pkg/exchanges/common"
)

type fakeBybit struct {
	t        *testing.T
	created  []map[string]any
	leverage int
}

func (f *fakeBybit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	write := func(result any) {
		b, _ := json.Marshal(map[string]any{"retCode": 0, "retMsg": "OK", "result": result})
		w.Write(b)
	}
	switch r.URL.Path {
	case "/v5/market/time":
		write(map[string]string{"timeNano": strconv.FormatInt(time.Now().UnixNano(), 10)})
	case "/v5/market/instruments-info":
		write(map[string]any{"list": []map[string]any{{
			"symbol": "BTCUSDT", "baseCoin": "BTC", "quoteCoin": "USDT", "settleCoin": "USDT", "status": "Trading",
			"lotSizeFilter": map[string]string{"qtyStep": "0.001", "minOrderQty": "0.001"},
			"priceFilter":   map[string]string{"tickSize": "0.10"},
		}}})
	case "/v5/market/tickers":
		if r.URL.Query().Get("symbol") == "ETHUSDT" {
			write(map[string]any{"list": []map[string]string{{"symbol": "ETHUSDT", "lastPrice": "", "prevPrice24h": "2900"}}})
			return
		}
		write(map[string]any{"list": []map[string]string{{"symbol": "BTCUSDT", "lastPrice": "50000.5", "prevPrice24h": "49000"}}})
	case "/v5/position/set-leverage":
		f.verify(r)
		f.leverage++
		w.Write([]byte(`{"retCode":110043,"retMsg":"leverage not modified","result":{}}`))
	case "/v5/order/create":
		body := f.verify(r)
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			f.t.Errorf("decode order body: %v", err)
		}
		f.created = append(f.created, m)
		if m["qty"] == "999" {
			w.Write([]byte(`{"retCode":110007,"retMsg":"ab not enough for new order","result":{}}`))
			return
		}
		write(map[string]string{"orderId": "ord-1", "orderLinkId": "link-1"})
	case "/v5/order/realtime":
		f.verify(r)
		write(map[string]any{"list": []map[string]string{{
			"orderId": "ord-1", "orderStatus": "Filled", "avgPrice": "50001", "qty": "0.01", "cumExecQty": "0.01", "createdTime": "1700000000000",
		}}})
	default:
		http.NotFound(w, r)
	}
}

// verify checks the v5 signature and returns the request payload.
func (f *fakeBybit) verify(r *http.Request) []byte {
	f.t.Helper()
	payload := []byte(r.URL.RawQuery)
	if r.Method != http.MethodGet {
		payload, _ = io.ReadAll(r.Body)
	}
	ts := r.Header.Get("X-BAPI-TIMESTAMP")
	recv := r.Header.Get("X-BAPI-RECV-WINDOW")
	want := common.SignHex(ts+"key"+recv+string(payload), "secret")
	if r.Header.Get("X-BAPI-SIGN") != want || r.Header.Get("X-BAPI-API-KEY") != "key" {
		f.t.Errorf("bad signature for %s", r.URL.Path)
	}
	return payload
}

func newTestClient(t *testing.T, market common.MarketType) (*Client, *fakeBybit) {
	t.Helper()
	fake := &fakeBybit{t: t}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c := New(Config{
		APIKey:    "key",
		APISecret: "secret",
		BaseURL:   srv.URL,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, market)
	if err := c.LoadMarkets(context.Background()); err != nil {
		t.Fatalf("LoadMarkets returned error: %v", err)
	}
	return c, fake
}

func TestLinearMarketOrder(t *testing.T) {
	c, fake := newTestClient(t, common.MarketSwap)

	qty, err := c.AmountToPrecision("BTC/USDT:USDT", 0.01234)
	if err != nil || qty != 0.012 {
		t.Fatalf("AmountToPrecision=%v, %v; expected 0.012", qty, err)
	}

	order, err := c.CreateMarketOrder(context.Background(), "BTC/USDT:USDT", common.SideBuy, 0.01, common.OrderParams{})
	if err != nil {
		t.Fatalf("CreateMarketOrder returned error: %v", err)
	}
	if order.ID != "ord-1" || order.Status != common.StatusClosed || order.Average != 50001 {
		t.Fatalf("unexpected order: %+v", order)
	}
	sent := fake.created[0]
	if sent["category"] != "linear" || sent["side"] != "Buy" || sent["orderType"] != "Market" || sent["qty"] != "0.01" {
		t.Fatalf("unexpected request body: %v", sent)
	}
}

func TestStopOrderTriggerDirection(t *testing.T) {
	c, fake := newTestClient(t, common.MarketSwap)

	_, err := c.CreateStopOrder(context.Background(), common.StopOrderRequest{
		Symbol: "BTC/USDT:USDT", Side: common.SideSell, Amount: 0.01, StopPrice: 49000, ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("CreateStopOrder returned error: %v", err)
	}
	sent := fake.created[0]
	if sent["triggerPrice"] != "49000" || sent["triggerDirection"] != float64(2) || sent["reduceOnly"] != true {
		t.Fatalf("unexpected stop body: %v", sent)
	}
}

func TestLeverageNotModifiedIsSuccess(t *testing.T) {
	c, fake := newTestClient(t, common.MarketSwap)
	if err := c.SetLeverage(context.Background(), 10, "BTC/USDT:USDT"); err != nil {
		t.Fatalf("SetLeverage returned error: %v", err)
	}
	if fake.leverage != 1 {
		t.Fatalf("set-leverage called %d times, expected 1", fake.leverage)
	}
}

func TestRetCodeMapsToClass(t *testing.T) {
	c, _ := newTestClient(t, common.MarketSwap)
	_, err := c.CreateMarketOrder(context.Background(), "BTC/USDT:USDT", common.SideBuy, 999, common.OrderParams{})
	if common.ClassOf(err) != common.ClassInsufficientFunds {
		t.Fatalf("ClassOf=%s, expected %s (%v)", common.ClassOf(err), common.ClassInsufficientFunds, err)
	}
}

func TestFetchTicker(t *testing.T) {
	c, _ := newTestClient(t, common.MarketSpot)
	tk, err := c.FetchTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchTicker returned error: %v", err)
	}
	if tk.Last != 50000.5 || tk.Reference() != 50000.5 {
		t.Fatalf("unexpected ticker: %+v", tk)
	}

	stale, err := c.FetchTicker(context.Background(), "ETH/USDT")
	if err != nil {
		t.Fatalf("FetchTicker returned error: %v", err)
	}
	if stale.Reference() != 0 {
		t.Fatalf("a missing last price must not fall back to the 24h price, got %+v", stale)
	}
}

func TestSpotRejectsLeverage(t *testing.T) {
	c, _ := newTestClient(t, common.MarketSpot)
	err := c.SetLeverage(context.Background(), 5, "BTC/USDT")
	if common.ClassOf(err) != common.ClassNotSupported {
		t.Fatalf("ClassOf=%s, expected %s", common.ClassOf(err), common.ClassNotSupported)
	}
}
