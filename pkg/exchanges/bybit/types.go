package bybit

import (
	"errors"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"tv-executor/pkg/exchanges/common"
)

const codeLeverageNotModified = 110043

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

type instrumentsResult struct {
	List           []instrumentInfo `json:"list"`
	NextPageCursor string           `json:"nextPageCursor"`
}

type instrumentInfo struct {
	Symbol        string `json:"symbol"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	SettleCoin    string `json:"settleCoin"`
	Status        string `json:"status"`
	LotSizeFilter struct {
		BasePrecision string `json:"basePrecision"` // spot
		QtyStep       string `json:"qtyStep"`       // linear
		MinOrderQty   string `json:"minOrderQty"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

func (in instrumentInfo) instrument(market common.MarketType) common.Instrument {
	out := common.Instrument{
		Symbol:     in.BaseCoin + "/" + in.QuoteCoin,
		ID:         in.Symbol,
		Base:       in.BaseCoin,
		Quote:      in.QuoteCoin,
		AmountStep: common.ParseStep(in.LotSizeFilter.BasePrecision),
		MinAmount:  common.ParseStep(in.LotSizeFilter.MinOrderQty),
		PriceTick:  common.ParseStep(in.PriceFilter.TickSize),
	}
	if market == common.MarketSwap {
		out.Settle = in.SettleCoin
		out.Symbol += ":" + in.SettleCoin
		out.AmountStep = common.ParseStep(in.LotSizeFilter.QtyStep)
	}
	return out
}

type tickersResult struct {
	List []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

type orderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderDetail struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	OrderStatus string `json:"orderStatus"`
	AvgPrice    string `json:"avgPrice"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	Price       string `json:"price"`
	CreatedTime string `json:"createdTime"`
}

func (d orderDetail) apply(o common.Order) common.Order {
	o.Status = mapStatus(d.OrderStatus)
	o.Filled = parseFloat(d.CumExecQty)
	o.Average = parseFloat(d.AvgPrice)
	if qty := parseFloat(d.Qty); qty > 0 {
		o.Amount = qty
	}
	if price := parseFloat(d.Price); price > 0 {
		o.Price = price
	}
	if ms, err := strconv.ParseInt(d.CreatedTime, 10, 64); err == nil {
		o.Timestamp = time.UnixMilli(ms)
	}
	return o
}

func mapStatus(s string) common.OrderStatus {
	switch s {
	case "New", "PartiallyFilled", "Untriggered", "Created":
		return common.StatusOpen
	case "Filled":
		return common.StatusClosed
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return common.StatusCanceled
	case "Rejected":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}

func mapError(code int, msg string) error {
	class := common.ClassExchange
	switch code {
	case 10003, 10004, 33004:
		class = common.ClassAuthentication
	case 10005, 10010:
		class = common.ClassPermissionDenied
	case 10006, 10018:
		class = common.ClassRateLimit
	case 110004, 110007, 110012, 110052, 170131:
		class = common.ClassInsufficientFunds
	case 10001, 110003, 110017, 110094, 170121, 170136, 170137, 170140:
		class = common.ClassInvalidOrder
	case 10016:
		class = common.ClassNetwork
	case 10029, 110023:
		class = common.ClassBadSymbol
	}
	return &common.BrokerError{Exchange: ExchangeID, Class: class, Code: strconv.Itoa(code), Message: msg}
}

func isCode(err error, code int) bool {
	var be *common.BrokerError
	return errors.As(err, &be) && be.Code == strconv.Itoa(code)
}
