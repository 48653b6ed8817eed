package bitget

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"tv-executor/pkg/exchanges/common"
)

type envelope struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

type spotSymbol struct {
	Symbol            string `json:"symbol"`
	BaseCoin          string `json:"baseCoin"`
	QuoteCoin         string `json:"quoteCoin"`
	QuantityPrecision string `json:"quantityPrecision"`
	PricePrecision    string `json:"pricePrecision"`
	MinTradeAmount    string `json:"minTradeAmount"`
	Status            string `json:"status"`
}

func (s spotSymbol) instrument() common.Instrument {
	return common.Instrument{
		Symbol:     s.BaseCoin + "/" + s.QuoteCoin,
		ID:         s.Symbol,
		Base:       s.BaseCoin,
		Quote:      s.QuoteCoin,
		AmountStep: places(s.QuantityPrecision),
		MinAmount:  common.ParseStep(s.MinTradeAmount),
		PriceTick:  places(s.PricePrecision),
	}
}

type contractInfo struct {
	Symbol         string   `json:"symbol"`
	BaseCoin       string   `json:"baseCoin"`
	QuoteCoin      string   `json:"quoteCoin"`
	SupportMargins []string `json:"supportMarginCoins"`
	PricePlace     string   `json:"pricePlace"`
	PriceEndStep   string   `json:"priceEndStep"`
	VolumePlace    string   `json:"volumePlace"`
	SizeMultiplier string   `json:"sizeMultiplier"`
	MinTradeNum    string   `json:"minTradeNum"`
	SymbolStatus   string   `json:"symbolStatus"`
}

func (s contractInfo) instrument() common.Instrument {
	settle := s.QuoteCoin
	if len(s.SupportMargins) == 1 {
		settle = s.SupportMargins[0]
	}
	step := common.ParseStep(s.SizeMultiplier)
	if step.IsZero() {
		step = places(s.VolumePlace)
	}
	tick := places(s.PricePlace)
	if end := common.ParseStep(s.PriceEndStep); end.IsPositive() {
		tick = tick.Mul(end)
	}
	return common.Instrument{
		Symbol:     s.BaseCoin + "/" + s.QuoteCoin + ":" + settle,
		ID:         s.Symbol,
		Base:       s.BaseCoin,
		Quote:      s.QuoteCoin,
		Settle:     settle,
		AmountStep: step,
		MinAmount:  common.ParseStep(s.MinTradeNum),
		PriceTick:  tick,
	}
}

type orderAck struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type orderDetail struct {
	OrderID    string `json:"orderId"`
	Status     string `json:"status"` // spot
	State      string `json:"state"`  // mix
	PriceAvg   string `json:"priceAvg"`
	BaseVolume string `json:"baseVolume"`
	Size       string `json:"size"`
	Price      string `json:"price"`
	CTime      string `json:"cTime"`
}

func (d orderDetail) apply(o common.Order) common.Order {
	status := d.State
	if status == "" {
		status = d.Status
	}
	o.Status = mapStatus(status)
	o.Average = parseFloat(d.PriceAvg)
	o.Filled = parseFloat(d.BaseVolume)
	if price := parseFloat(d.Price); price > 0 {
		o.Price = price
	}
	if ms, err := strconv.ParseInt(d.CTime, 10, 64); err == nil {
		o.Timestamp = time.UnixMilli(ms)
	}
	return o
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "live", "new", "init", "partially_filled", "partial_fill":
		return common.StatusOpen
	case "filled", "full_fill":
		return common.StatusClosed
	case "cancelled", "canceled":
		return common.StatusCanceled
	default:
		return common.StatusUnknown
	}
}

func mapError(code, msg string) error {
	class := common.ClassExchange
	switch code {
	case "40001", "40002", "40003", "40004", "40005", "40006", "40008", "40009", "40011", "40012":
		class = common.ClassAuthentication
	case "40014", "40017":
		class = common.ClassPermissionDenied
	case "429", "40010":
		class = common.ClassRateLimit
	case "40034", "40309", "40404":
		class = common.ClassBadSymbol
	case "40754", "40762", "43012", "43007":
		class = common.ClassInsufficientFunds
	case "40019", "40020", "40808", "43009", "43010", "45110", "45111", "45115":
		class = common.ClassInvalidOrder
	case "40015", "40725":
		class = common.ClassNetwork
	}
	return &common.BrokerError{Exchange: ExchangeID, Class: class, Code: code, Message: msg}
}

func places(s string) decimal.Decimal {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return decimal.Zero
	}
	return common.StepFromDecimals(int32(n))
}

// productType picks the mix product line from the settlement currency.
func productType(symbol string) string {
	_, _, settle := common.SplitSymbol(symbol)
	switch settle {
	case "USDT":
		return "USDT-FUTURES"
	case "USDC":
		return "USDC-FUTURES"
	default:
		return "COIN-FUTURES"
	}
}

func venueSymbol(unified string) string {
	base, quote, _ := common.SplitSymbol(unified)
	return base + quote
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
