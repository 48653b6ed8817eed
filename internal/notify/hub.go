package notify

import (
	"context"

	"tv-executor/internal/events"
)

// Hub republishes outcomes on the in-process bus, where WebSocket clients
// pick them up.
type Hub struct {
	bus *events.Bus
}

// NewHub creates a bus-backed sink.
func NewHub(bus *events.Bus) *Hub {
	return &Hub{bus: bus}
}

func (h *Hub) Name() string { return "hub" }

func (h *Hub) Send(_ context.Context, msg Message) error {
	topic := events.EventExecutionSucceeded
	if msg.Kind == KindFailure {
		topic = events.EventExecutionFailed
	}
	h.bus.Publish(topic, msg.Event())
	return nil
}
