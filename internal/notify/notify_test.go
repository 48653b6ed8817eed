package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"tv-executor/internal/domain"
	"tv-executor/internal/events"
)

type fakeSink struct {
	name  string
	err   error
	block bool
	sent  atomic.Int32
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(ctx context.Context, msg Message) error {
	f.sent.Add(1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleResult() domain.OrderResult {
	price := 50000.0
	return domain.OrderResult{
		OrderID:    "123",
		Exchange:   domain.ExchangeBinance,
		Symbol:     "BTC/USDT",
		Action:     domain.ActionBuy,
		OrderType:  domain.OrderTypeMarket,
		Volume:     0.01,
		Price:      &price,
		ExecutedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Status:     domain.StatusFilled,
		MarketType: domain.MarketSpot,
	}
}

func TestDispatcherWithoutSinksIsNoop(t *testing.T) {
	d := NewDispatcher(time.Second, quietLogger())
	if d.Enabled() {
		t.Fatal("dispatcher without sinks must be disabled")
	}
	if err := d.NotifySuccess(context.Background(), sampleResult()); err != nil {
		t.Fatalf("NotifySuccess returned error: %v", err)
	}
	if err := d.NotifyError(context.Background(), domain.NewAuthenticationError("Invalid passphrase")); err != nil {
		t.Fatalf("NotifyError returned error: %v", err)
	}
}

func TestDispatcherFansOutAndReportsFailures(t *testing.T) {
	healthy := &fakeSink{name: "healthy"}
	broken := &fakeSink{name: "broken", err: errors.New("503")}
	slow := &fakeSink{name: "slow", block: true}
	d := NewDispatcher(20*time.Millisecond, quietLogger(), healthy, broken, slow)

	err := d.NotifySuccess(context.Background(), sampleResult())
	var ne *domain.NotificationError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NotificationError, got %v", err)
	}
	if !strings.Contains(ne.Message, "broken") || !strings.Contains(ne.Message, "slow") || strings.Contains(ne.Message, "healthy") {
		t.Fatalf("unexpected message: %q", ne.Message)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("slow sink must be bounded by the per-sink timeout")
	}
	for _, s := range []*fakeSink{healthy, broken, slow} {
		if s.sent.Load() != 1 {
			t.Fatalf("sink %s received %d messages, expected 1", s.name, s.sent.Load())
		}
	}
}

func TestSuccessText(t *testing.T) {
	msg := Message{Kind: KindSuccess, Result: ptrResult(sampleResult())}
	want := "🟢 *Order Executed* ✅\n\n" +
		"*Exchange:* BINANCE\n" +
		"*Symbol:* `BTC/USDT`\n" +
		"*Action:* BUY\n" +
		"*Volume:* 0.01\n" +
		"*Type:* market\n" +
		"*Price:* 50000.00000000\n" +
		"*Status:* filled\n" +
		"*Order ID:* `123`\n" +
		"*Time:* 2024-05-01T12:00:00.000Z"
	if got := msg.Text(); got != want {
		t.Fatalf("Text mismatch:\n%s\n---\n%s", got, want)
	}

	pending := sampleResult()
	pending.Action, pending.Status, pending.Price = domain.ActionSell, domain.StatusPending, nil
	text := Message{Kind: KindSuccess, Result: &pending}.Text()
	if !strings.HasPrefix(text, "🔴 *Order Executed* ⏳") || !strings.Contains(text, "*Price:* Market") {
		t.Fatalf("unexpected text: %s", text)
	}
}

func TestFailureText(t *testing.T) {
	msg := Message{Kind: KindFailure, Err: domain.NewExchangeError("okx", "Failed to create market order", "InsufficientFunds", nil)}
	want := "❌ *Order Failed*\n\nExchange Error [okx]: Failed to create market order (code: InsufficientFunds)"
	if got := msg.Text(); got != want {
		t.Fatalf("Text=%q, expected %q", got, want)
	}
}

func TestFailureTextEscapesMarkdown(t *testing.T) {
	msg := Message{Kind: KindFailure, Err: domain.NewConfigurationError("No credentials found for exchange: bybit", "BYBIT_API_KEY")}
	want := "❌ *Order Failed*\n\nConfiguration Error: No credentials found for exchange: bybit (missing: BYBIT\\_API\\_KEY)"
	if got := msg.Text(); got != want {
		t.Fatalf("Text=%q, expected %q", got, want)
	}

	broker := Message{Kind: KindFailure, Err: domain.NewExchangeError("binance", "Filter failure: LOT_SIZE [*]", "InvalidOrder", nil)}
	if got := broker.Text(); !strings.Contains(got, `LOT\_SIZE \[\*]`) {
		t.Fatalf("broker message not escaped: %q", got)
	}
}

func TestTelegramSink(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			http.Error(w, `{"ok":false}`, http.StatusNotFound)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42", srv.URL, srv.Client())
	if err := tg.Send(context.Background(), Message{Kind: KindSuccess, Result: ptrResult(sampleResult())}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got["chat_id"] != "42" || got["parse_mode"] != "Markdown" || !strings.Contains(got["text"], "Order Executed") {
		t.Fatalf("unexpected body: %v", got)
	}

	bad := NewTelegram("WRONG", "42", srv.URL, srv.Client())
	if err := bad.Send(context.Background(), Message{Kind: KindSuccess, Result: ptrResult(sampleResult())}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected telegram API error, got %v", err)
	}
}

func TestDiscordSink(t *testing.T) {
	var payload struct {
		Embeds []embed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, srv.Client())
	msg := Message{Kind: KindFailure, Time: time.Now(), Err: domain.NewConfigurationError("Exchange credentials not configured", "OKX_API_KEY")}
	if err := d.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(payload.Embeds) != 1 || payload.Embeds[0].Color != colorFailure || !strings.Contains(payload.Embeds[0].Description, "OKX_API_KEY") {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "trade-executions"}

	if err := k.Send(context.Background(), Message{Kind: KindSuccess, Result: ptrResult(sampleResult())}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "binance:BTC/USDT" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var ev struct {
		Event  string         `json:"event"`
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(w.msgs[0].Value, &ev); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}
	if ev.Event != string(KindSuccess) || ev.Result["orderId"] != "123" || ev.Result["executedAt"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestHubSink(t *testing.T) {
	bus := events.NewBus()
	stream, unsub := bus.Subscribe(1, events.EventExecutionFailed)
	defer unsub()

	h := NewHub(bus)
	err := h.Send(context.Background(), Message{Kind: KindFailure, Err: domain.NewExchangeError("bybit", "boom", "NetworkError", nil)})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	ev := (<-stream).Payload.(Event)
	if ev.Error == nil || ev.Error.Exchange != "bybit" || ev.Error.Code != "NetworkError" || ev.Error.Kind != domain.KindExchange {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func ptrResult(r domain.OrderResult) *domain.OrderResult { return &r }
