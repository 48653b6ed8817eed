package order

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tv-executor/internal/domain"
	"tv-executor/pkg/exchanges/common"
)

// fakeConn is a connector with call counters. Precision is a 0.001 amount
// step and a 0.1 price tick.
type fakeConn struct {
	mu      sync.Mutex
	calls   []string
	price   float64
	status  common.OrderStatus
	average float64
	filled  float64 // reported fill; 0 means the full amount
	err     map[string]error
	panics  map[string]string

	onEntry    func()
	amount     float64
	limitPrice float64
	params     common.OrderParams
}

func newFake(price float64) *fakeConn {
	return &fakeConn{price: price, status: common.StatusClosed, average: price, err: map[string]error{}, panics: map[string]string{}}
}

func (f *fakeConn) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if msg, ok := f.panics[call]; ok {
		panic(msg)
	}
	return f.err[call]
}

func (f *fakeConn) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeConn) ID() string                { return "fake" }
func (f *fakeConn) Market() common.MarketType { return common.MarketSwap }

func (f *fakeConn) CreateMarketOrder(_ context.Context, symbol string, side common.Side, amount float64, params common.OrderParams) (common.Order, error) {
	if err := f.record("market"); err != nil {
		return common.Order{}, err
	}
	f.amount, f.params = amount, params
	if f.onEntry != nil {
		f.onEntry()
	}
	filled := amount
	if f.filled > 0 {
		filled = f.filled
	}
	return common.Order{ID: "entry-1", Symbol: symbol, Side: side, Amount: amount, Filled: filled, Average: f.average, Status: f.status}, nil
}

func (f *fakeConn) CreateLimitOrder(_ context.Context, symbol string, side common.Side, amount, price float64, params common.OrderParams) (common.Order, error) {
	if err := f.record("limit"); err != nil {
		return common.Order{}, err
	}
	f.amount, f.limitPrice, f.params = amount, price, params
	status := common.StatusOpen
	if f.status == common.StatusClosed && f.average > 0 {
		status = common.StatusClosed
	}
	return common.Order{ID: "entry-1", Symbol: symbol, Side: side, Amount: amount, Price: price, Status: status}, nil
}

func (f *fakeConn) FetchTicker(_ context.Context, symbol string) (common.Ticker, error) {
	if err := f.record("ticker"); err != nil {
		return common.Ticker{}, err
	}
	return common.Ticker{Symbol: symbol, Last: f.price}, nil
}

func (f *fakeConn) AmountToPrecision(_ string, amount float64) (float64, error) {
	return common.TruncateToStep(decimal.NewFromFloat(amount), decimal.RequireFromString("0.001")).InexactFloat64(), nil
}

func (f *fakeConn) PriceToPrecision(_ string, price float64) (float64, error) {
	return common.RoundToStep(decimal.NewFromFloat(price), decimal.RequireFromString("0.1")).InexactFloat64(), nil
}

// fullConn adds leverage and a dedicated stop primitive.
type fullConn struct {
	*fakeConn
	stopPanic bool
	stopReq   common.StopOrderRequest
	stopCtx   error
}

func (f *fullConn) SetLeverage(_ context.Context, leverage int, symbol string) error {
	return f.record("leverage")
}

func (f *fullConn) CreateStopOrder(ctx context.Context, req common.StopOrderRequest) (common.Order, error) {
	f.stopCtx = ctx.Err()
	if f.stopPanic {
		panic("stop endpoint exploded")
	}
	if err := f.record("stop"); err != nil {
		return common.Order{}, err
	}
	f.stopReq = req
	return common.Order{ID: "stop-1", Type: common.OrderTypeStopMarket, Status: common.StatusOpen}, nil
}

// genericConn only offers the generic order primitive.
type genericConn struct {
	*fakeConn
	req common.OrderRequest
}

func (g *genericConn) CreateOrder(_ context.Context, req common.OrderRequest) (common.Order, error) {
	if err := g.record("order"); err != nil {
		return common.Order{}, err
	}
	g.req = req
	return common.Order{ID: "stop-2", Type: req.Type, Status: common.StatusOpen}, nil
}

type observed struct {
	step Step
	err  error
}

type fakeObserver struct {
	mu       sync.Mutex
	steps    []observed
	absorbed []string
}

func (o *fakeObserver) ObserveStep(_ string, step Step, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = append(o.steps, observed{step, err})
}

func (o *fakeObserver) ObserveAbsorbed(_ string, step string, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.absorbed = append(o.absorbed, step)
}

func ptr[T any](v T) *T { return &v }

func resolved(sig domain.TradeSignal, market domain.MarketType) domain.ResolvedOrderContext {
	return domain.ResolvedOrderContext{Signal: sig, MarketType: market, Symbol: sig.Symbol}
}

func marketBuy(symbol string) domain.TradeSignal {
	return domain.TradeSignal{
		Exchange:   domain.ExchangeBinance,
		Symbol:     symbol,
		Action:     domain.ActionBuy,
		OrderType:  domain.OrderTypeMarket,
		Passphrase: "x",
	}
}
