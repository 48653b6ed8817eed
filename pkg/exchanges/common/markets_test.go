package common

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBook(t *testing.T) *MarketBook {
	t.Helper()
	book := NewMarketBook("testex", 1, quietLogger(), nil)
	book.Set([]Instrument{
		{Symbol: "BTC/USDT", ID: "BTCUSDT", AmountStep: ParseStep("0.00100000"), PriceTick: ParseStep("0.01")},
		{Symbol: "BTC/USDT:USDT", ID: "BTC-USDT-SWAP", AmountStep: decimal.NewFromInt(1), PriceTick: ParseStep("0.1"), ContractSize: ParseStep("0.01")},
		{Symbol: "DOGE/USDT", ID: "DOGEUSDT", PriceTick: StepFromDecimals(5)},
	})
	return book
}

func TestAmountToPrecision(t *testing.T) {
	book := testBook(t)
	tests := []struct {
		symbol string
		in     float64
		want   float64
	}{
		{"BTC/USDT", 0.0123456, 0.012},
		{"BTC/USDT", 0.0009, 0},
		{"BTC/USDT:USDT", 0.0567, 0.05},
		{"DOGE/USDT", 123.456, 123.456},
	}
	for _, tt := range tests {
		got, err := book.AmountToPrecision(tt.symbol, tt.in)
		if err != nil {
			t.Fatalf("AmountToPrecision(%s, %v) returned error: %v", tt.symbol, tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("AmountToPrecision(%s, %v)=%v, expected %v", tt.symbol, tt.in, got, tt.want)
		}
	}
}

func TestPriceToPrecision(t *testing.T) {
	book := testBook(t)
	got, err := book.PriceToPrecision("BTC/USDT:USDT", 50123.456)
	if err != nil {
		t.Fatalf("PriceToPrecision returned error: %v", err)
	}
	if got != 50123.5 {
		t.Fatalf("PriceToPrecision=%v, expected 50123.5", got)
	}
	got, _ = book.PriceToPrecision("DOGE/USDT", 0.1234567)
	if got != 0.12346 {
		t.Fatalf("PriceToPrecision=%v, expected 0.12346", got)
	}
}

func TestUnknownSymbolIsBadSymbol(t *testing.T) {
	book := testBook(t)
	_, err := book.AmountToPrecision("ETH/USDT", 1)
	if ClassOf(err) != ClassBadSymbol {
		t.Fatalf("ClassOf=%s, expected %s", ClassOf(err), ClassBadSymbol)
	}
	if book.SymbolFor("BTC-USDT-SWAP") != "BTC/USDT:USDT" {
		t.Fatalf("SymbolFor did not map the venue id back")
	}
}

func TestLoadRetriesTransientFailures(t *testing.T) {
	calls := 0
	book := NewMarketBook("testex", 3, quietLogger(), func(ctx context.Context) ([]Instrument, error) {
		calls++
		if calls == 1 {
			return nil, Transport("testex", errors.New("connection reset"))
		}
		return []Instrument{{Symbol: "ETH/USDT", ID: "ETHUSDT"}}, nil
	})

	if err := book.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("load called %d times, expected 2", calls)
	}
	if err := book.Load(context.Background()); err != nil || calls != 2 {
		t.Fatalf("second Load must use the cache (calls=%d, err=%v)", calls, err)
	}
}

func TestLoadStopsOnPermanentFailure(t *testing.T) {
	calls := 0
	book := NewMarketBook("testex", 5, quietLogger(), func(ctx context.Context) ([]Instrument, error) {
		calls++
		return nil, NewBrokerError("testex", ClassAuthentication, "401", "invalid key")
	})

	err := book.Load(context.Background())
	if ClassOf(err) != ClassAuthentication {
		t.Fatalf("ClassOf=%s, expected %s", ClassOf(err), ClassAuthentication)
	}
	if calls != 1 {
		t.Fatalf("load called %d times, expected 1", calls)
	}
	if book.Loaded() {
		t.Fatal("failed load must not mark the book loaded")
	}
}

func TestTickerReference(t *testing.T) {
	if (Ticker{Last: 10, Close: 9}).Reference() != 10 {
		t.Fatal("Reference must prefer last")
	}
	if (Ticker{Close: 9}).Reference() != 9 {
		t.Fatal("Reference must fall back to close")
	}
}
