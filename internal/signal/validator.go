// Package signal turns raw webhook payloads into validated trade signals and
// decides which market they route to.
package signal

import (
	"crypto/subtle"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"tv-executor/internal/domain"
)

const (
	minLeverage = 1
	maxLeverage = 125
)

var (
	exchangeValues  = []string{"binance", "bybit", "okx", "bitget"}
	actionValues    = []string{"buy", "sell"}
	orderTypeValues = []string{"market", "limit"}
	marketValues    = []string{"spot", "futures", "swap"}
	directionValues = []string{"long", "short"}
)

// Validate decodes raw and checks it against the signal schema and secret.
// A payload carrying a string passphrase is authenticated before its other
// fields are checked, so a wrong secret is always reported as such. It has
// no side effects.
func Validate(raw []byte, secret string) (domain.TradeSignal, error) {
	obj, err := object(raw)
	if err != nil {
		return domain.TradeSignal{}, err
	}
	if pass, ok := obj["passphrase"].(string); ok && pass != "" {
		if err := authenticate(pass, secret); err != nil {
			return domain.TradeSignal{}, err
		}
	}
	sig, err := decode(obj)
	if err != nil {
		return domain.TradeSignal{}, err
	}
	if err := authenticate(sig.Passphrase, secret); err != nil {
		return domain.TradeSignal{}, err
	}
	return sig, nil
}

func authenticate(passphrase, secret string) error {
	if subtle.ConstantTimeCompare([]byte(passphrase), []byte(secret)) != 1 {
		return domain.NewAuthenticationError("Invalid passphrase")
	}
	return nil
}

func object(raw []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, domain.NewValidationError(
			"Invalid signal structure: payload must be a JSON object", "", nil)
	}
	return obj, nil
}

func decode(obj map[string]any) (domain.TradeSignal, error) {
	d := &decoder{obj: obj}
	sig := domain.TradeSignal{
		Exchange:   domain.ExchangeID(d.enum("exchange", true, exchangeValues)),
		Action:     domain.Action(d.enum("action", true, actionValues)),
		OrderType:  domain.OrderType(d.enum("orderType", true, orderTypeValues)),
		Passphrase: d.passphrase(),
		MarketType: domain.MarketOverride(d.enum("marketType", false, marketValues)),
		Direction:  domain.Direction(d.enum("direction", false, directionValues)),
		ReduceOnly: d.boolean("reduceOnly"),
	}
	sig.Symbol = d.symbol()
	sig.Volume = d.positive("volume", "Volume must be positive")
	sig.VolumeUSDT = d.number("volumeUSDT")
	sig.Leverage = d.leverage()

	if len(d.problems) > 0 {
		msgs := make([]string, len(d.problems))
		for i, p := range d.problems {
			msgs[i] = p.field + ": " + p.message
		}
		first := d.problems[0]
		return domain.TradeSignal{}, domain.NewValidationError(
			"Invalid signal structure: "+strings.Join(msgs, ", "), first.field, first.value)
	}

	if sig.Volume == nil && sig.VolumeUSDT == nil {
		return domain.TradeSignal{}, domain.NewValidationError(
			"Either volume or volumeUSDT must be specified", "volume", nil)
	}
	if sig.VolumeUSDT != nil && *sig.VolumeUSDT <= 0 {
		return domain.TradeSignal{}, domain.NewValidationError(
			"volumeUSDT must be positive", "volumeUSDT", *sig.VolumeUSDT)
	}
	return sig, nil
}

type problem struct {
	field   string
	message string
	value   any
}

// decoder reads typed fields out of a generic JSON object and collects every
// violation instead of stopping at the first one.
type decoder struct {
	obj      map[string]any
	problems []problem
}

func (d *decoder) fail(field, message string, value any) {
	d.problems = append(d.problems, problem{field: field, message: message, value: value})
}

// lookup treats JSON null the same as an absent key.
func (d *decoder) lookup(field string) (any, bool) {
	v, ok := d.obj[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (d *decoder) str(field string, required bool) (string, bool) {
	v, ok := d.lookup(field)
	if !ok {
		if required {
			d.fail(field, "is required", nil)
		}
		return "", false
	}
	s, isStr := v.(string)
	if !isStr {
		d.fail(field, "Expected string", v)
		return "", false
	}
	return s, true
}

func (d *decoder) enum(field string, required bool, allowed []string) string {
	s, ok := d.str(field, required)
	if !ok {
		return ""
	}
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	d.fail(field, fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")), s)
	return ""
}

func (d *decoder) passphrase() string {
	s, ok := d.str("passphrase", true)
	if !ok {
		return ""
	}
	if s == "" {
		d.fail("passphrase", "Passphrase cannot be empty", s)
	}
	return s
}

func (d *decoder) symbol() string {
	s, ok := d.str("symbol", true)
	if !ok {
		return ""
	}
	normalized, err := NormalizeSymbol(s)
	if err != nil {
		d.fail("symbol", err.Error(), s)
		return ""
	}
	return normalized
}

func (d *decoder) number(field string) *float64 {
	v, ok := d.lookup(field)
	if !ok {
		return nil
	}
	f, isNum := v.(float64)
	if !isNum || math.IsNaN(f) || math.IsInf(f, 0) {
		d.fail(field, "Expected number", v)
		return nil
	}
	return &f
}

func (d *decoder) positive(field, message string) *float64 {
	f := d.number(field)
	if f != nil && *f <= 0 {
		d.fail(field, message, *f)
		return nil
	}
	return f
}

func (d *decoder) leverage() *int {
	f := d.number("leverage")
	if f == nil {
		return nil
	}
	if *f != math.Trunc(*f) || *f < minLeverage || *f > maxLeverage {
		d.fail("leverage", fmt.Sprintf("must be an integer between %d and %d", minLeverage, maxLeverage), *f)
		return nil
	}
	lev := int(*f)
	return &lev
}

func (d *decoder) boolean(field string) bool {
	v, ok := d.lookup(field)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	if !isBool {
		d.fail(field, "Expected boolean", v)
	}
	return b
}
