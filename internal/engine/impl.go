package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tv-executor/internal/domain"
	"tv-executor/internal/order"
	"tv-executor/internal/signal"
)

// Impl implements Service by composing the validator, the market resolver,
// the connector registry, the order engine and the notifier.
type Impl struct {
	secret        string
	connectors    Connectors
	orders        *order.Engine
	notifier      Notifier
	recorder      Recorder
	orderTimeout  time.Duration
	notifyTimeout time.Duration
	logger        *slog.Logger

	meta SystemStatus
}

// Config holds the dependencies of an Impl. Notifier and Recorder are optional.
type Config struct {
	Secret        string
	Connectors    Connectors
	Orders        *order.Engine
	Notifier      Notifier
	Recorder      Recorder
	OrderTimeout  time.Duration
	NotifyTimeout time.Duration
	Logger        *slog.Logger
	Meta          SystemStatus
}

// NewImpl creates a Service implementation.
func NewImpl(cfg Config) *Impl {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &Impl{
		secret:        cfg.Secret,
		connectors:    cfg.Connectors,
		orders:        cfg.Orders,
		notifier:      cfg.Notifier,
		recorder:      cfg.Recorder,
		orderTimeout:  cfg.OrderTimeout,
		notifyTimeout: cfg.NotifyTimeout,
		logger:        logger.With("component", "engine"),
		meta:          cfg.Meta,
	}
}

func (e *Impl) Execute(ctx context.Context, raw []byte) (domain.OrderResult, error) {
	start := time.Now()
	res, exchange, err := e.run(ctx, raw)
	if e.recorder != nil {
		e.recorder.ObserveExecution(exchange, time.Since(start), err)
	}

	if err != nil {
		derr := domain.From(err)
		e.logger.Warn("execution failed", "exchange", exchange, "kind", derr.Kind(), "error", derr.Error(),
			"duration_ms", time.Since(start).Milliseconds())
		e.notify(ctx, exchange, "notify_error", func(ctx context.Context) error { return e.notifier.NotifyError(ctx, derr) })
		return domain.OrderResult{}, derr
	}

	e.logger.Info("execution succeeded", "exchange", res.Exchange, "symbol", res.Symbol, "action", res.Action,
		"order_id", res.OrderID, "status", res.Status, "duration_ms", time.Since(start).Milliseconds())
	e.notify(ctx, string(res.Exchange), "notify_success", func(ctx context.Context) error { return e.notifier.NotifySuccess(ctx, res) })
	return res, nil
}

// run validates and executes raw. Validation happens before any exchange is
// contacted. A panic anywhere below surfaces as UnknownError.
func (e *Impl) run(ctx context.Context, raw []byte) (res domain.OrderResult, exchange string, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = domain.OrderResult{}
			err = domain.NewUnknownError(fmt.Sprintf("execution panicked: %v", p), nil)
		}
	}()

	sig, err := signal.Validate(raw, e.secret)
	if err != nil {
		return domain.OrderResult{}, "", err
	}
	exchange = string(sig.Exchange)
	rc := signal.Resolve(sig)

	if e.orderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.orderTimeout)
		defer cancel()
	}

	conn, err := e.connectors.Get(ctx, sig.Exchange, rc.MarketType)
	if err != nil {
		return domain.OrderResult{}, exchange, err
	}
	res, err = e.orders.Execute(ctx, rc, conn)
	return res, exchange, err
}

// notify runs a notification detached from the caller's cancellation and
// bounded by the notify timeout. Its failures are only logged.
func (e *Impl) notify(ctx context.Context, exchange, name string, send func(ctx context.Context) error) {
	if e.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
	defer cancel()
	out := order.BestEffort(nctx, e.logger, name, send)
	if obs, ok := e.recorder.(order.Observer); ok && !out.OK() {
		obs.ObserveAbsorbed(exchange, name, out.Err)
	}
}

func (e *Impl) Status(ctx context.Context) SystemStatus {
	st := e.meta
	if e.connectors != nil {
		st.Exchanges = e.connectors.Configured()
		if pr, ok := e.connectors.(PaperReporter); ok && st.DryRun {
			st.Paper = pr.PaperBooks()
		}
	}
	if e.notifier != nil {
		st.Notifications = e.notifier.Sinks()
	}
	return st
}
