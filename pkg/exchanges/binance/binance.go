// Package binance holds what the Binance spot and USDT-M futures connectors
// share: configuration, error classification and exchange-info parsing.
package binance

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	bncommon "github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"tv-executor/pkg/exchanges/common"
)

// ExchangeID is the venue id reported by both connectors.
const ExchangeID = "binance"

// Config holds Binance credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	MaxRetries int // attempts when loading exchange info
	Logger     *slog.Logger
}

// Symbol converts BTC/USDT or BTC/USDT:USDT into BTCUSDT.
func Symbol(unified string) string {
	base, quote, _ := common.SplitSymbol(unified)
	return base + quote
}

// Filters extracts the quantity step, minimum quantity and price tick from
// the generic filter maps returned by exchangeInfo.
func Filters(filters []map[string]interface{}) (step, minQty, tick decimal.Decimal) {
	for _, f := range filters {
		switch f["filterType"] {
		case "LOT_SIZE":
			step = common.ParseStep(str(f["stepSize"]))
			minQty = common.ParseStep(str(f["minQty"]))
		case "PRICE_FILTER":
			tick = common.ParseStep(str(f["tickSize"]))
		}
	}
	return step, minQty, tick
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// MapStatus normalizes a Binance order status.
func MapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PARTIALLY_FILLED":
		return common.StatusOpen
	case "FILLED":
		return common.StatusClosed
	case "CANCELED", "PENDING_CANCEL":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

// ParseFloat parses a numeric string field, treating garbage as zero.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// MapError converts errors returned by go-binance into broker errors.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *bncommon.APIError
	if !errors.As(err, &apiErr) {
		return common.Transport(ExchangeID, err)
	}
	return &common.BrokerError{
		Exchange: ExchangeID,
		Class:    classify(apiErr.Code, apiErr.Message),
		Code:     strconv.FormatInt(apiErr.Code, 10),
		Message:  apiErr.Message,
		Err:      err,
	}
}

func classify(code int64, msg string) string {
	switch code {
	case -2019, -2018:
		return common.ClassInsufficientFunds
	case -2010:
		if strings.Contains(strings.ToLower(msg), "insufficient") {
			return common.ClassInsufficientFunds
		}
		return common.ClassInvalidOrder
	case -1121:
		return common.ClassBadSymbol
	case -2014, -2015, -1022:
		return common.ClassAuthentication
	case -1002:
		return common.ClassPermissionDenied
	case -1003, -1015:
		return common.ClassRateLimit
	case -1007:
		return common.ClassRequestTimeout
	case -1000, -1001:
		return common.ClassNetwork
	case -1013, -1100, -1102, -1106, -1111, -1116, -2021, -4003, -4028, -4164:
		return common.ClassInvalidOrder
	}
	return common.ClassExchange
}
