// Package engine is the single entry point from transports into the
// execution pipeline. The API layer and the gRPC server only talk to it
// through Service.
package engine

import (
	"context"
	"time"

	"tv-executor/internal/domain"
	"tv-executor/pkg/exchanges/common"
	"tv-executor/pkg/exchanges/paper"
)

// Service runs webhook payloads through the pipeline.
type Service interface {
	// Execute validates raw, routes it to an exchange and places the orders.
	// The returned error is always a domain.Error.
	Execute(ctx context.Context, raw []byte) (domain.OrderResult, error)

	// Status describes the running process.
	Status(ctx context.Context) SystemStatus
}

// Connectors hands out exchange connectors. *gateway.Manager implements it.
type Connectors interface {
	Get(ctx context.Context, ex domain.ExchangeID, market domain.MarketType) (common.Connector, error)
	Configured() []string
}

// PaperReporter is implemented by Connectors that can describe simulated
// accounts in dry-run mode.
type PaperReporter interface {
	PaperBooks() map[string]paper.Book
}

// Notifier reports pipeline outcomes. *notify.Dispatcher implements it.
type Notifier interface {
	NotifySuccess(ctx context.Context, res domain.OrderResult) error
	NotifyError(ctx context.Context, err error) error
	Sinks() []string
}

// Recorder observes whole pipeline runs. *monitor.Metrics implements it.
type Recorder interface {
	ObserveExecution(exchange string, d time.Duration, err error)
}
