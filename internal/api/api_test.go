package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"tv-executor/internal/domain"
	"tv-executor/internal/engine"
	"tv-executor/internal/events"
	"tv-executor/internal/monitor"
)

const jwtSecret = "stream-secret"

type stubEngine struct {
	mu    sync.Mutex
	calls int
	res   domain.OrderResult
	err   error
}

func (s *stubEngine) Execute(_ context.Context, raw []byte) (domain.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.res, s.err
}

func (s *stubEngine) Status(context.Context) engine.SystemStatus {
	return engine.SystemStatus{Version: "test", Exchanges: []string{"binance"}, StartedAt: time.Now().Add(-time.Minute)}
}

func (s *stubEngine) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(eng *stubEngine, mutate func(*Options)) *Server {
	gin.SetMode(gin.TestMode)
	opts := Options{
		Engine:    eng,
		Bus:       events.NewBus(),
		Metrics:   monitor.New(),
		Logger:    quiet(),
		JWTSecret: jwtSecret,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewServer(opts)
}

func post(s *Server, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, rec.Body.String())
	}
	return out
}

func TestWebhookSuccess(t *testing.T) {
	price := 50000.0
	eng := &stubEngine{res: domain.OrderResult{
		OrderID:    "123",
		Exchange:   domain.ExchangeBinance,
		Symbol:     "BTC/USDT",
		Action:     domain.ActionBuy,
		OrderType:  domain.OrderTypeMarket,
		Volume:     0.01,
		Price:      &price,
		Status:     domain.StatusFilled,
		ExecutedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}
	rec := post(newTestServer(eng, nil), `{"any":"payload"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["orderId"] != "123" || body["status"] != "filled" || body["volume"] != 0.01 {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["executedAt"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("executedAt=%v", body["executedAt"])
	}
	if _, ok := body["error"]; ok {
		t.Fatalf("success body must not carry an error: %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		prefix string
	}{
		{"validation", domain.NewValidationError("symbol is invalid", "symbol", "BTC"), http.StatusBadRequest, "Validation Error"},
		{"authentication", domain.NewAuthenticationError("Invalid passphrase"), http.StatusUnauthorized, "Authentication Error"},
		{"exchange", domain.NewExchangeError("binance", "insufficient balance", "InsufficientFunds", nil), http.StatusInternalServerError, "Exchange Error"},
		{"configuration", domain.NewConfigurationError("No credentials found for exchange: okx", "OKX_API_KEY"), http.StatusInternalServerError, "Configuration Error"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(newTestServer(&stubEngine{err: tt.err}, nil), `{}`)
			if rec.Code != tt.status {
				t.Fatalf("status=%d, expected %d", rec.Code, tt.status)
			}
			body := decode(t, rec)
			msg, _ := body["error"].(string)
			if body["success"] != false || msg == "" || !strings.HasPrefix(msg, tt.prefix) {
				t.Fatalf("unexpected body: %v", body)
			}
			if _, ok := body["orderId"]; ok {
				t.Fatalf("error body must not carry result fields: %v", body)
			}
		})
	}
}

func TestWebhookRejectsOversizedPayload(t *testing.T) {
	eng := &stubEngine{}
	rec := post(newTestServer(eng, nil), `{"pad":"`+strings.Repeat("x", maxPayloadBytes)+`"}`)
	if rec.Code != http.StatusRequestEntityTooLarge || eng.count() != 0 {
		t.Fatalf("status=%d calls=%d", rec.Code, eng.count())
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(&stubEngine{}, nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
	if uptime, _ := body["uptime"].(float64); uptime < 59 {
		t.Fatalf("uptime=%v, expected about 60", body["uptime"])
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp not ISO-8601: %v", body["timestamp"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&stubEngine{}, nil)
	post(s, `{}`)

	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `tvexec_http_requests_total{code="200",method="POST",route="/webhook"} 1`) {
		t.Fatalf("webhook request not counted:\n%s", rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	eng := &stubEngine{}
	s := newTestServer(eng, func(o *Options) { o.RateLimiter = NewRateLimiter(0.001, 2, quiet()) })

	codes := []int{post(s, `{}`).Code, post(s, `{}`).Code, post(s, `{}`).Code}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes=%v, expected [200 200 429]", codes)
	}
	if eng.count() != 2 {
		t.Fatalf("engine calls=%d, expected 2", eng.count())
	}
}

func TestRateLimiterSweep(t *testing.T) {
	l := NewRateLimiter(1, 1, quiet())
	l.get("10.0.0.1")
	l.get("10.0.0.2")
	if removed := l.Sweep(-time.Second); removed != 2 {
		t.Fatalf("removed %d, expected 2", removed)
	}
}

func TestReplayGuard(t *testing.T) {
	eng := &stubEngine{}
	s := newTestServer(eng, func(o *Options) {
		o.Replay = NewMemoryReplayStore()
		o.ReplayWindow = time.Minute
	})

	first := post(s, `{"symbol":"BTC/USDT","n":1}`)
	dup := post(s, `{"symbol":"BTC/USDT","n":1}`)
	other := post(s, `{"symbol":"BTC/USDT","n":2}`)

	if first.Code != http.StatusOK || dup.Code != http.StatusConflict || other.Code != http.StatusOK {
		t.Fatalf("codes=%d/%d/%d, expected 200/409/200", first.Code, dup.Code, other.Code)
	}
	if eng.count() != 2 {
		t.Fatalf("engine calls=%d, expected 2", eng.count())
	}
}

type failingStore struct{}

func (failingStore) Remember(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestReplayGuardFailsOpen(t *testing.T) {
	eng := &stubEngine{}
	s := newTestServer(eng, func(o *Options) {
		o.Replay = failingStore{}
		o.ReplayWindow = time.Minute
	})
	if rec := post(s, `{}`); rec.Code != http.StatusOK || eng.count() != 1 {
		t.Fatalf("status=%d calls=%d", rec.Code, eng.count())
	}
}

type fakeRedis struct {
	keys map[string]bool
	ttl  time.Duration
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	f.ttl = ttl
	if f.keys[key] {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = true
	return redis.NewBoolResult(true, nil)
}

func TestRedisReplayStore(t *testing.T) {
	fake := &fakeRedis{keys: map[string]bool{}}
	store := &RedisReplayStore{client: fake, prefix: "tvexec:replay:"}

	fresh, err := store.Remember(context.Background(), "abc", time.Minute)
	if err != nil || !fresh {
		t.Fatalf("first Remember = %v, %v", fresh, err)
	}
	fresh, _ = store.Remember(context.Background(), "abc", time.Minute)
	if fresh {
		t.Fatal("second Remember must report a duplicate")
	}
	if !fake.keys["tvexec:replay:abc"] || fake.ttl != time.Minute {
		t.Fatalf("unexpected redis state: %v ttl=%v", fake.keys, fake.ttl)
	}
}

func TestTokens(t *testing.T) {
	token, err := GenerateToken("ops", jwtSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if sub, err := parseToken(token, jwtSecret); err != nil || sub != "ops" {
		t.Fatalf("parseToken = %q, %v", sub, err)
	}
	if _, err := parseToken(token, "other"); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
	expired, _ := GenerateToken("ops", jwtSecret, -time.Minute)
	if _, err := parseToken(expired, jwtSecret); err == nil {
		t.Fatal("expired token must be rejected")
	}

	unscoped := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, _ := unscoped.SignedString([]byte(jwtSecret))
	if _, err := parseToken(raw, jwtSecret); err == nil {
		t.Fatal("token without the stream scope must be rejected")
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	s := newTestServer(&stubEngine{}, nil)
	tests := []struct {
		name   string
		header string
		query  string
	}{
		{"missing", "", ""},
		{"malformed header", "Token abc", ""},
		{"bad token", "", "?token=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			s.Router.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status=%d, expected 401", rec.Code)
			}
		})
	}
}

func TestWebSocketDisabledWithoutSecret(t *testing.T) {
	s := newTestServer(&stubEngine{}, func(o *Options) { o.JWTSecret = "" })
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, expected 404", rec.Code)
	}
}

func TestWebSocketStreamsExecutions(t *testing.T) {
	s := newTestServer(&stubEngine{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	token, _ := GenerateToken("ops", jwtSecret, time.Minute)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The server subscribes after the handshake, so publish until one arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.Bus.Publish(events.EventOrderSubmitted, "ignored")
				s.Bus.Publish(events.EventExecutionSucceeded, map[string]string{"orderId": "123"})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event   string            `json:"event"`
		Payload map[string]string `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != string(events.EventExecutionSucceeded) || msg.Payload["orderId"] != "123" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
