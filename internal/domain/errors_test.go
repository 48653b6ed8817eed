package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  Error
		want string
	}{
		{"validation with field", NewValidationError("bad symbol", "symbol", "BTC"), "Validation Error: bad symbol (field: symbol)"},
		{"validation without field", NewValidationError("bad payload", "", nil), "Validation Error: bad payload"},
		{"authentication", NewAuthenticationError("Invalid passphrase"), "Authentication Error: Invalid passphrase"},
		{"exchange with code", NewExchangeError("binance", "Market order failed: no funds", "InsufficientFunds", nil), "Exchange Error [binance]: Market order failed: no funds (code: InsufficientFunds)"},
		{"exchange without code", NewExchangeError("okx", "Could not determine current price", "", nil), "Exchange Error [okx]: Could not determine current price"},
		{"configuration", NewConfigurationError("No credentials found for exchange: bybit", "BYBIT_API_KEY"), "Configuration Error: No credentials found for exchange: bybit (missing: BYBIT_API_KEY)"},
		{"notification", NewNotificationError("telegram: 500", nil), "Notification Error: telegram: 500"},
		{"unknown", NewUnknownError("boom", nil), "Unknown Error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("Error()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromKeepsDomainErrorsInChain(t *testing.T) {
	base := NewExchangeError("bybit", "Limit order failed", "InvalidOrder", nil)
	wrapped := fmt.Errorf("pipeline: %w", base)

	got := From(wrapped)
	if got != base {
		t.Fatalf("From returned %#v, want the wrapped ExchangeError", got)
	}
	if KindOf(wrapped) != KindExchange {
		t.Fatalf("KindOf=%s, want %s", KindOf(wrapped), KindExchange)
	}
}

func TestFromClassifiesPlainErrorsAsUnknown(t *testing.T) {
	plain := errors.New("socket closed")
	got := From(plain)
	unknown, ok := got.(*UnknownError)
	if !ok {
		t.Fatalf("From returned %T, want *UnknownError", got)
	}
	if !errors.Is(unknown, plain) {
		t.Fatalf("UnknownError does not unwrap to the original error")
	}
	if From(nil) != nil {
		t.Fatalf("From(nil) must be nil")
	}
}

func TestIsClientError(t *testing.T) {
	if !IsClientError(NewValidationError("x", "", nil)) || !IsClientError(NewAuthenticationError("x")) {
		t.Fatal("validation and authentication failures are client errors")
	}
	for _, err := range []error{
		NewExchangeError("binance", "x", "", nil),
		NewConfigurationError("x", "K"),
		NewUnknownError("x", nil),
		errors.New("plain"),
	} {
		if IsClientError(err) {
			t.Fatalf("%v must not be a client error", err)
		}
	}
}

func TestActionOpposite(t *testing.T) {
	if ActionBuy.Opposite() != ActionSell || ActionSell.Opposite() != ActionBuy {
		t.Fatal("Opposite must swap buy and sell")
	}
}
