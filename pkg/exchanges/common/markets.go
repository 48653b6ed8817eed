package common

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

// Instrument is the trading metadata of one symbol.
type Instrument struct {
	Symbol       string // unified
	ID           string // venue-native
	Base         string
	Quote        string
	Settle       string
	AmountStep   decimal.Decimal // in venue units (contracts for OKX swaps)
	PriceTick    decimal.Decimal
	MinAmount    decimal.Decimal
	ContractSize decimal.Decimal // base units per venue unit; 1 when unset
}

// SplitSymbol breaks a unified symbol into its parts.
func SplitSymbol(symbol string) (base, quote, settle string) {
	pair, settle, _ := strings.Cut(symbol, ":")
	base, quote, _ = strings.Cut(pair, "/")
	return base, quote, settle
}

// ParseStep reads a step/tick string such as "0.00100000". Invalid or empty
// input yields zero, which disables rounding.
func ParseStep(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// StepFromDecimals converts a decimal-places count into a step (3 -> 0.001).
func StepFromDecimals(places int32) decimal.Decimal {
	return decimal.New(1, -places)
}

// MarketBook caches instrument metadata for one connector and applies its
// precision rules.
type MarketBook struct {
	exchange string
	load     func(ctx context.Context) ([]Instrument, error)
	tries    uint
	logger   *slog.Logger

	mu          sync.RWMutex
	instruments map[string]Instrument
	byID        map[string]string
}

// NewMarketBook creates a book filled by load. tries bounds the attempts per
// Load call; transient failures are retried with exponential backoff.
func NewMarketBook(exchange string, tries int, logger *slog.Logger, load func(ctx context.Context) ([]Instrument, error)) *MarketBook {
	if tries < 1 {
		tries = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketBook{exchange: exchange, load: load, tries: uint(tries), logger: logger}
}

// Loaded reports whether metadata is present.
func (b *MarketBook) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.instruments != nil
}

// Load fetches metadata unless it is already cached.
func (b *MarketBook) Load(ctx context.Context) error {
	if b.Loaded() {
		return nil
	}
	list, err := b.fetch(ctx)
	if err != nil {
		return err
	}
	b.Set(list)
	b.logger.Info("markets loaded", "exchange", b.exchange, "instruments", len(list))
	return nil
}

func (b *MarketBook) fetch(ctx context.Context) ([]Instrument, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	var lastErr error
	for attempt := uint(1); attempt <= b.tries; attempt++ {
		list, err := b.load(ctx)
		if err == nil {
			return list, nil
		}
		lastErr = err
		if !Retryable(err) || attempt == b.tries {
			break
		}
		sleep := bo.NextBackOff()
		b.logger.Warn("load markets failed, retrying", "exchange", b.exchange, "attempt", attempt, "in", sleep, "error", err)
		select {
		case <-ctx.Done():
			return nil, Transport(b.exchange, ctx.Err())
		case <-time.After(sleep):
		}
	}
	return nil, lastErr
}

// Set replaces the cached metadata.
func (b *MarketBook) Set(list []Instrument) {
	instruments := make(map[string]Instrument, len(list))
	byID := make(map[string]string, len(list))
	for _, in := range list {
		if in.ContractSize.IsZero() {
			in.ContractSize = decimal.NewFromInt(1)
		}
		instruments[in.Symbol] = in
		byID[in.ID] = in.Symbol
	}
	b.mu.Lock()
	b.instruments = instruments
	b.byID = byID
	b.mu.Unlock()
}

// Instrument returns the metadata for a unified symbol.
func (b *MarketBook) Instrument(symbol string) (Instrument, error) {
	b.mu.RLock()
	in, ok := b.instruments[symbol]
	b.mu.RUnlock()
	if !ok {
		return Instrument{}, NewBrokerError(b.exchange, ClassBadSymbol, "", fmt.Sprintf("%s does not have market symbol %s", b.exchange, symbol))
	}
	return in, nil
}

// SymbolFor maps a venue-native id back to its unified symbol.
func (b *MarketBook) SymbolFor(id string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.byID[id]
}

// AmountToPrecision truncates amount (in base units) to the instrument's
// quantity step.
func (b *MarketBook) AmountToPrecision(symbol string, amount float64) (float64, error) {
	in, err := b.Instrument(symbol)
	if err != nil {
		return 0, err
	}
	units := in.ToUnits(decimal.NewFromFloat(amount))
	return units.Mul(in.ContractSize).InexactFloat64(), nil
}

// PriceToPrecision rounds price to the nearest tick.
func (b *MarketBook) PriceToPrecision(symbol string, price float64) (float64, error) {
	in, err := b.Instrument(symbol)
	if err != nil {
		return 0, err
	}
	return RoundToStep(decimal.NewFromFloat(price), in.PriceTick).InexactFloat64(), nil
}

// ToUnits converts a base amount into venue units truncated to the step.
func (in Instrument) ToUnits(amount decimal.Decimal) decimal.Decimal {
	size := in.ContractSize
	if size.IsZero() {
		size = decimal.NewFromInt(1)
	}
	return TruncateToStep(amount.Div(size), in.AmountStep)
}

// TruncateToStep rounds v toward zero to a multiple of step.
func TruncateToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Truncate(0).Mul(step)
}

// RoundToStep rounds v to the nearest multiple of step.
func RoundToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Round(0).Mul(step)
}

// FormatDecimal renders a float without exponent or trailing zeros.
func FormatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}
