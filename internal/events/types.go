package events

import "time"

// Event enumerates the topics published while a signal is executed.
type Event string

const (
	EventOrderSubmitted     Event = "order.submitted"
	EventOrderAccepted      Event = "order.accepted"
	EventOrderRejected      Event = "order.rejected"
	EventOrderFilled        Event = "order.filled"
	EventStopLossPlaced     Event = "stoploss.placed"
	EventStopLossFailed     Event = "stoploss.failed"
	EventExecutionSucceeded Event = "execution.succeeded"
	EventExecutionFailed    Event = "execution.failed"
)

// Message is what subscribers receive.
type Message struct {
	Event   Event     `json:"event"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}
