package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tv-executor/internal/domain"
)

// Kind tells sinks which outcome a message reports.
type Kind string

const (
	KindSuccess Kind = "execution.succeeded"
	KindFailure Kind = "execution.failed"
)

// Message is one outcome handed to every sink. Exactly one of Result and Err
// is set.
type Message struct {
	Kind   Kind
	Time   time.Time
	Result *domain.OrderResult
	Err    domain.Error
}

// Text renders the message as Telegram Markdown.
func (m Message) Text() string {
	if m.Kind == KindFailure {
		return "❌ *Order Failed*\n\n" + escapeMarkdown(m.Err.Error())
	}

	r := m.Result
	emoji := "🔴"
	if r.Action == domain.ActionBuy {
		emoji = "🟢"
	}
	statusEmoji := "⏳"
	if r.Status == domain.StatusFilled {
		statusEmoji = "✅"
	}
	price := "Market"
	if r.Price != nil {
		price = strconv.FormatFloat(*r.Price, 'f', 8, 64)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *Order Executed* %s\n\n", emoji, statusEmoji)
	fmt.Fprintf(&b, "*Exchange:* %s\n", escapeMarkdown(strings.ToUpper(string(r.Exchange))))
	fmt.Fprintf(&b, "*Symbol:* `%s`\n", stripBackticks(r.Symbol))
	fmt.Fprintf(&b, "*Action:* %s\n", strings.ToUpper(string(r.Action)))
	fmt.Fprintf(&b, "*Volume:* %s\n", strconv.FormatFloat(r.Volume, 'f', -1, 64))
	fmt.Fprintf(&b, "*Type:* %s\n", escapeMarkdown(string(r.OrderType)))
	fmt.Fprintf(&b, "*Price:* %s\n", price)
	fmt.Fprintf(&b, "*Status:* %s\n", r.Status)
	if r.StopLoss != nil {
		fmt.Fprintf(&b, "*Stop-Loss:* %s\n", strconv.FormatFloat(r.StopLoss.StopPrice, 'f', -1, 64))
	}
	fmt.Fprintf(&b, "*Order ID:* `%s`\n", stripBackticks(r.OrderID))
	fmt.Fprintf(&b, "*Time:* %s", r.ExecutedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	return b.String()
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`")

// escapeMarkdown escapes the entity characters of Telegram's legacy Markdown.
// Unbalanced underscores in keys like BYBIT_API_KEY otherwise make the Bot
// API reject the whole message.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// stripBackticks keeps a value inside a code span intact; code spans take no
// escapes.
func stripBackticks(s string) string { return strings.ReplaceAll(s, "`", "") }

// Event is the JSON shape published to Kafka and WebSocket subscribers.
type Event struct {
	Event  Kind                `json:"event"`
	Time   time.Time           `json:"time"`
	Result *domain.OrderResult `json:"result,omitempty"`
	Error  *ErrorView          `json:"error,omitempty"`
}

// ErrorView is the serialized form of a pipeline failure.
type ErrorView struct {
	Kind     domain.Kind `json:"kind"`
	Message  string      `json:"message"`
	Exchange string      `json:"exchange,omitempty"`
	Code     string      `json:"code,omitempty"`
}

// Event converts m for structured sinks.
func (m Message) Event() Event {
	ev := Event{Event: m.Kind, Time: m.Time, Result: m.Result}
	if m.Err != nil {
		view := &ErrorView{Kind: m.Err.Kind(), Message: m.Err.Error()}
		if ee, ok := m.Err.(*domain.ExchangeError); ok {
			view.Exchange, view.Code = ee.Exchange, ee.Code
		}
		ev.Error = view
	}
	return ev
}

// key partitions structured events by venue and symbol.
func (m Message) key() string {
	if m.Result != nil {
		return string(m.Result.Exchange) + ":" + m.Result.Symbol
	}
	if ee, ok := m.Err.(*domain.ExchangeError); ok {
		return ee.Exchange
	}
	return string(m.Err.Kind())
}
