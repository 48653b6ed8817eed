// Package notify reports pipeline outcomes to operator channels. Delivery is
// best-effort: failures are returned as NotificationError for logging and
// never decide the outcome of a run.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tv-executor/internal/domain"
)

// Sink delivers messages to one channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Dispatcher fans every message out to all configured sinks.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. Each sink gets at most timeout per
// message; zero means no bound beyond the caller's context.
func NewDispatcher(timeout time.Duration, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, timeout: timeout, logger: logger, now: time.Now}
}

// Enabled reports whether any sink is configured.
func (d *Dispatcher) Enabled() bool { return len(d.sinks) > 0 }

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// NotifySuccess reports a successful execution.
func (d *Dispatcher) NotifySuccess(ctx context.Context, res domain.OrderResult) error {
	return d.dispatch(ctx, Message{Kind: KindSuccess, Time: d.now().UTC(), Result: &res})
}

// NotifyError reports a failed execution.
func (d *Dispatcher) NotifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	return d.dispatch(ctx, Message{Kind: KindFailure, Time: d.now().UTC(), Err: domain.From(err)})
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) error {
	if len(d.sinks) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed []string
		errs   []error
		g      errgroup.Group
	)
	for _, sink := range d.sinks {
		g.Go(func() error {
			sctx := ctx
			if d.timeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(ctx, d.timeout)
				defer cancel()
			}
			if err := sink.Send(sctx, msg); err != nil {
				d.logger.Warn("notification failed", "sink", sink.Name(), "event", msg.Kind, "error", err)
				mu.Lock()
				failed = append(failed, sink.Name())
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if len(errs) > 0 {
		return domain.NewNotificationError("delivery failed for "+strings.Join(failed, ", "), errors.Join(errs...))
	}
	return nil
}
