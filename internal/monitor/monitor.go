package monitor

import (
	"context"
	"log/slog"

	"tv-executor/internal/events"
)

// Monitor counts bus events and raises an alert log line for positions left
// without a stop-loss.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Logger  *slog.Logger
}

// Start consumes the bus until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		return
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stream, unsub := m.Bus.Subscribe(256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				m.Metrics.events.WithLabelValues(string(msg.Event)).Inc()
				if msg.Event == events.EventStopLossFailed {
					logger.Error("position is unprotected", "detail", msg.Payload)
				}
			}
		}
	}()
	m.Metrics.WatchGauge("bus_dropped_deliveries", "Bus deliveries skipped because a subscriber was full.", func() float64 {
		return float64(m.Bus.Dropped())
	})
}
