package okx

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"tv-executor/pkg/exchanges/common"
)

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type itemStatus struct {
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

func (s itemStatus) err() error {
	if s.SCode == "" || s.SCode == "0" {
		return nil
	}
	return mapError(s.SCode, s.SMsg)
}

type instrumentInfo struct {
	InstID    string `json:"instId"`
	InstType  string `json:"instType"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	SettleCcy string `json:"settleCcy"`
	Uly       string `json:"uly"`
	CtVal     string `json:"ctVal"`
	LotSz     string `json:"lotSz"`
	MinSz     string `json:"minSz"`
	TickSz    string `json:"tickSz"`
	State     string `json:"state"`
}

func (in instrumentInfo) instrument() common.Instrument {
	out := common.Instrument{
		ID:         in.InstID,
		Base:       in.BaseCcy,
		Quote:      in.QuoteCcy,
		AmountStep: common.ParseStep(in.LotSz),
		MinAmount:  common.ParseStep(in.MinSz),
		PriceTick:  common.ParseStep(in.TickSz),
	}
	if in.InstType == "SWAP" {
		// Swaps leave baseCcy/quoteCcy empty; the underlying carries the pair.
		base, quote, _ := strings.Cut(in.Uly, "-")
		out.Base, out.Quote, out.Settle = base, quote, in.SettleCcy
		out.ContractSize = common.ParseStep(in.CtVal)
		out.Symbol = base + "/" + quote + ":" + in.SettleCcy
		return out
	}
	out.Symbol = in.BaseCcy + "/" + in.QuoteCcy
	return out
}

type orderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	itemStatus
}

type algoAck struct {
	AlgoID      string `json:"algoId"`
	AlgoClOrdID string `json:"algoClOrdId"`
	itemStatus
}

type orderDetail struct {
	OrdID     string `json:"ordId"`
	State     string `json:"state"`
	AvgPx     string `json:"avgPx"`
	AccFillSz string `json:"accFillSz"`
	Sz        string `json:"sz"`
	Px        string `json:"px"`
	CTime     string `json:"cTime"`
}

// apply folds the order detail into o, converting contract sizes into base units.
func (d orderDetail) apply(o common.Order, contractSize decimal.Decimal) common.Order {
	o.Status = mapStatus(d.State)
	o.Average = parseFloat(d.AvgPx)
	if filled, err := decimal.NewFromString(d.AccFillSz); err == nil {
		o.Filled = filled.Mul(contractSize).InexactFloat64()
	}
	if sz, err := decimal.NewFromString(d.Sz); err == nil && sz.IsPositive() {
		o.Amount = sz.Mul(contractSize).InexactFloat64()
	}
	if px := parseFloat(d.Px); px > 0 {
		o.Price = px
	}
	if ms, err := strconv.ParseInt(d.CTime, 10, 64); err == nil {
		o.Timestamp = time.UnixMilli(ms)
	}
	return o
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "live", "partially_filled":
		return common.StatusOpen
	case "filled":
		return common.StatusClosed
	case "canceled", "mmp_canceled":
		return common.StatusCanceled
	default:
		return common.StatusUnknown
	}
}

func mapError(code, msg string) error {
	class := common.ClassExchange
	switch code {
	case "50100", "50101", "50102", "50103", "50104", "50105", "50106", "50107", "50111", "50112", "50113", "50114":
		class = common.ClassAuthentication
	case "50110", "50120", "50121":
		class = common.ClassPermissionDenied
	case "50011", "50061":
		class = common.ClassRateLimit
	case "50004":
		class = common.ClassRequestTimeout
	case "50001", "50013", "50026":
		class = common.ClassNetwork
	case "51001", "51012":
		class = common.ClassBadSymbol
	case "51008", "51119", "51127", "51131":
		class = common.ClassInsufficientFunds
	case "50014", "51000", "51004", "51006", "51020", "51121", "51201", "51202", "51203", "51205", "51277", "51278", "51279", "51280":
		class = common.ClassInvalidOrder
	}
	return &common.BrokerError{Exchange: ExchangeID, Class: class, Code: code, Message: msg}
}
