// Package order turns a resolved signal into exchange orders: optional
// leverage, the entry order and a best-effort protective stop.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tv-executor/internal/domain"
	"tv-executor/internal/events"
	"tv-executor/pkg/exchanges/common"
)

// Step names a state of one execution run.
type Step string

const (
	StepLeverage Step = "leverage"
	StepEntry    Step = "entry"
	StepStopLoss Step = "stop_loss"
	StepDone     Step = "done"
)

// Config holds the engine's tunables.
type Config struct {
	LimitOrderOffset float64       // fraction a limit price sits behind the reference price
	StopLossOffset   float64       // fraction between entry and stop price; 0 disables stops
	StopLossTimeout  time.Duration // bound on the detached stop-loss call; 0 means none
}

// Observer receives per-step timings and failures. Absorbed failures are
// reported separately since they never fail the run.
type Observer interface {
	ObserveStep(exchange string, step Step, d time.Duration, err error)
	ObserveAbsorbed(exchange, step string, err error)
}

// Engine executes resolved signals against a connector. It holds no per-run
// state and is safe for concurrent use.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	bus      *events.Bus
	observer Observer
	now      func() time.Time
}

// NewEngine creates an engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger, now: time.Now}
}

// SetBus publishes order lifecycle events to bus.
func (e *Engine) SetBus(bus *events.Bus) { e.bus = bus }

// SetObserver reports step timings to o.
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// run is the state carried between steps.
type run struct {
	rc       domain.ResolvedOrderContext
	conn     common.Connector
	exchange string
	logger   *slog.Logger
	result   domain.OrderResult
	filled   float64 // base quantity the entry actually filled, if reported
}

// Execute walks Leverage -> Entry -> StopLoss -> Done once. Leverage and
// entry failures abort the run; the stop-loss step never fails it.
func (e *Engine) Execute(ctx context.Context, rc domain.ResolvedOrderContext, conn common.Connector) (domain.OrderResult, error) {
	r := &run{
		rc:       rc,
		conn:     conn,
		exchange: string(rc.Signal.Exchange),
		logger: e.logger.With("exchange", rc.Signal.Exchange, "symbol", rc.Symbol,
			"market", rc.MarketType, "action", rc.Signal.Action, "order_type", rc.Signal.OrderType),
	}

	step := StepLeverage
	for step != StepDone {
		start := e.now()
		next, err := e.step(ctx, r, step)
		if e.observer != nil {
			e.observer.ObserveStep(r.exchange, step, e.now().Sub(start), err)
		}
		if err != nil {
			r.logger.Error("execution aborted", "step", step, "error", err)
			return domain.OrderResult{}, err
		}
		step = next
	}
	return r.result, nil
}

// step runs one state. A panicking connector is reported as UnknownError so
// the run still ends with a classified failure.
func (e *Engine) step(ctx context.Context, r *run, step Step) (next Step, err error) {
	defer func() {
		if p := recover(); p != nil {
			next = ""
			err = domain.NewUnknownError(fmt.Sprintf("%s step panicked: %v", step, p), nil)
		}
	}()
	switch step {
	case StepLeverage:
		return e.leverage(ctx, r)
	case StepEntry:
		return e.entry(ctx, r)
	case StepStopLoss:
		return e.stopLoss(ctx, r), nil
	}
	return "", domain.NewUnknownError("unknown execution step "+string(step), nil)
}

func (e *Engine) leverage(ctx context.Context, r *run) (Step, error) {
	lev := r.rc.Signal.Leverage
	if lev == nil {
		return StepEntry, nil
	}
	setter, ok := r.conn.(common.LeverageSetter)
	if !ok {
		r.logger.Debug("connector cannot set leverage, skipping", "leverage", *lev)
		return StepEntry, nil
	}
	if err := ctx.Err(); err != nil {
		return "", aborted(r.exchange, err)
	}
	if err := setter.SetLeverage(ctx, *lev, r.rc.Symbol); err != nil {
		if common.ClassOf(err) == common.ClassNotSupported {
			r.logger.Debug("market does not support leverage, skipping", "leverage", *lev)
			return StepEntry, nil
		}
		return "", exchangeError(r.exchange, "Failed to set leverage", err)
	}
	r.logger.Info("leverage set", "leverage", *lev)
	return StepEntry, nil
}

func (e *Engine) entry(ctx context.Context, r *run) (Step, error) {
	if err := ctx.Err(); err != nil {
		return "", aborted(r.exchange, err)
	}
	var err error
	if r.rc.Signal.OrderType == domain.OrderTypeLimit {
		err = e.limitEntry(ctx, r)
	} else {
		err = e.marketEntry(ctx, r)
	}
	if err != nil {
		e.bus.Publish(events.EventOrderRejected, err.Error())
		return "", err
	}
	if e.cfg.StopLossOffset > 0 && r.result.Price != nil {
		return StepStopLoss, nil
	}
	return StepDone, nil
}

func (e *Engine) marketEntry(ctx context.Context, r *run) error {
	sig := r.rc.Signal
	var ref float64
	if sig.VolumeUSDT != nil {
		tk, err := r.conn.FetchTicker(ctx, r.rc.Symbol)
		if err != nil {
			return exchangeError(r.exchange, "Failed to fetch ticker", err)
		}
		ref = tk.Reference()
	}
	qty, err := ResolveVolume(r.rc, ref, r.conn)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return aborted(r.exchange, err)
	}

	params := e.params(sig)
	e.bus.Publish(events.EventOrderSubmitted, submission{Exchange: r.exchange, Symbol: r.rc.Symbol, Side: string(sig.Action), Amount: qty, ClientID: params.ClientID})
	o, err := r.conn.CreateMarketOrder(ctx, r.rc.Symbol, common.Side(sig.Action), qty, params)
	if err != nil {
		return exchangeError(r.exchange, "Failed to create market order", err)
	}

	var price *float64
	if o.Average > 0 {
		avg := o.Average
		price = &avg
	}
	status := domain.StatusPartial
	if o.Status == common.StatusClosed {
		status = domain.StatusFilled
	}
	e.accept(r, o, qty, price, status)
	return nil
}

func (e *Engine) limitEntry(ctx context.Context, r *run) error {
	sig := r.rc.Signal
	tk, err := r.conn.FetchTicker(ctx, r.rc.Symbol)
	if err != nil {
		return exchangeError(r.exchange, "Failed to fetch ticker", err)
	}
	ref := tk.Reference()
	if ref <= 0 {
		return domain.NewExchangeError(r.exchange, "Could not determine current price for "+r.rc.Symbol, common.ClassBadResponse, nil)
	}

	raw := LimitPrice(sig.Action, ref, e.cfg.LimitOrderOffset)
	limitPrice, err := r.conn.PriceToPrecision(r.rc.Symbol, raw)
	if err != nil {
		return exchangeError(r.exchange, "Failed to apply price precision", err)
	}
	qty, err := ResolveVolume(r.rc, limitPrice, r.conn)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return aborted(r.exchange, err)
	}

	params := e.params(sig)
	e.bus.Publish(events.EventOrderSubmitted, submission{Exchange: r.exchange, Symbol: r.rc.Symbol, Side: string(sig.Action), Amount: qty, Price: limitPrice, ClientID: params.ClientID})
	o, err := r.conn.CreateLimitOrder(ctx, r.rc.Symbol, common.Side(sig.Action), qty, limitPrice, params)
	if err != nil {
		return exchangeError(r.exchange, "Failed to create limit order", err)
	}

	status := domain.StatusPending
	if o.Status == common.StatusClosed {
		status = domain.StatusFilled
	}
	e.accept(r, o, qty, &limitPrice, status)
	return nil
}

func (e *Engine) params(sig domain.TradeSignal) common.OrderParams {
	return common.OrderParams{
		ClientID:   strings.ReplaceAll(uuid.NewString(), "-", ""),
		ReduceOnly: sig.ReduceOnly,
	}
}

func (e *Engine) accept(r *run, o common.Order, qty float64, price *float64, status domain.OrderStatus) {
	sig := r.rc.Signal
	r.result = domain.OrderResult{
		OrderID:    o.ID,
		Exchange:   sig.Exchange,
		Symbol:     r.rc.Symbol,
		Action:     sig.Action,
		OrderType:  sig.OrderType,
		Volume:     qty,
		Price:      price,
		ExecutedAt: e.now().UTC(),
		Status:     status,
		MarketType: r.rc.MarketType,
		Leverage:   sig.Leverage,
		Direction:  sig.Direction,
	}
	r.filled = o.Filled
	r.logger.Info("entry order placed", "order_id", o.ID, "qty", qty, "filled", o.Filled, "status", status)
	e.bus.Publish(events.EventOrderAccepted, r.result)
	if status == domain.StatusFilled {
		e.bus.Publish(events.EventOrderFilled, r.result)
	}
}

// stopLoss attaches the protective stop on a context detached from the
// caller, so a cancelled request cannot leave a filled entry unprotected.
func (e *Engine) stopLoss(ctx context.Context, r *run) Step {
	sctx := context.WithoutCancel(ctx)
	if e.cfg.StopLossTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, e.cfg.StopLossTimeout)
		defer cancel()
	}

	out := BestEffort(sctx, r.logger, string(StepStopLoss), func(ctx context.Context) error {
		return e.placeStop(ctx, r)
	})
	if !out.OK() {
		if e.observer != nil {
			e.observer.ObserveAbsorbed(r.exchange, out.Name, out.Err)
		}
		e.bus.Publish(events.EventStopLossFailed, stopFailure{Exchange: r.exchange, Symbol: r.rc.Symbol, EntryOrderID: r.result.OrderID, Error: out.Err.Error()})
	}
	return StepDone
}

func (e *Engine) placeStop(ctx context.Context, r *run) error {
	sig := r.rc.Signal
	long := sig.Direction == domain.DirectionLong || (sig.Direction == "" && sig.Action == domain.ActionBuy)
	stop, err := r.conn.PriceToPrecision(r.rc.Symbol, StopPrice(long, *r.result.Price, e.cfg.StopLossOffset))
	if err != nil {
		return err
	}
	side := common.Side(sig.Action.Opposite())
	amount, err := e.stopAmount(r)
	if err != nil {
		return err
	}

	var o common.Order
	switch c := r.conn.(type) {
	case common.StopOrderCreator:
		o, err = c.CreateStopOrder(ctx, common.StopOrderRequest{
			Symbol:     r.rc.Symbol,
			Side:       side,
			Amount:     amount,
			StopPrice:  stop,
			ReduceOnly: true,
		})
	case common.OrderCreator:
		o, err = c.CreateOrder(ctx, common.OrderRequest{
			Symbol: r.rc.Symbol,
			Type:   common.OrderTypeStopMarket,
			Side:   side,
			Amount: amount,
			Params: common.OrderParams{ReduceOnly: true, StopPrice: stop},
		})
	default:
		r.logger.Info("connector has no stop order primitive, entry left unprotected")
		return nil
	}
	if err != nil {
		return err
	}

	r.result.StopLoss = &domain.StopLossInfo{OrderID: o.ID, StopPrice: stop}
	r.logger.Info("stop-loss placed", "order_id", o.ID, "stop_price", stop, "side", side)
	e.bus.Publish(events.EventStopLossPlaced, r.result)
	return nil
}

// stopAmount sizes the stop to what the entry filled. Unfilled or unreported
// entries are protected for the submitted quantity.
func (e *Engine) stopAmount(r *run) (float64, error) {
	if r.filled <= 0 || r.filled >= r.result.Volume {
		return r.result.Volume, nil
	}
	amount, err := r.conn.AmountToPrecision(r.rc.Symbol, r.filled)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, fmt.Errorf("filled quantity %v is below the minimum amount step", r.filled)
	}
	return amount, nil
}

// LimitPrice offsets ref against the signal: below it for buys and above it
// for sells.
func LimitPrice(action domain.Action, ref, offset float64) float64 {
	return offsetPrice(action == domain.ActionBuy, ref, offset)
}

// StopPrice is below entry for long exposure and above it for short.
func StopPrice(long bool, entry, offset float64) float64 {
	return offsetPrice(long, entry, offset)
}

func offsetPrice(below bool, price, offset float64) float64 {
	off := decimal.NewFromFloat(offset)
	if below {
		off = off.Neg()
	}
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(1).Add(off)).InexactFloat64()
}

func aborted(exchange string, err error) *domain.ExchangeError {
	code := "Cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		code = common.ClassRequestTimeout
	}
	return domain.NewExchangeError(exchange, "Order aborted before submission: "+err.Error(), code, err)
}

type submission struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Amount   float64 `json:"amount"`
	Price    float64 `json:"price,omitempty"`
	ClientID string  `json:"clientId"`
}

type stopFailure struct {
	Exchange     string `json:"exchange"`
	Symbol       string `json:"symbol"`
	EntryOrderID string `json:"entryOrderId"`
	Error        string `json:"error"`
}
