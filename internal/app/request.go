package app

import (
	"futures-strategist/internal/order"
	"futures-strategist/internal/strategy"
)

// RequestKind 标识一次执行请求的种类。
type RequestKind string

const (
	RequestMarket    RequestKind = "MARKET"
	RequestLimit     RequestKind = "LIMIT"
	RequestStopLimit RequestKind = "STOP_LIMIT"
	RequestOco       RequestKind = "OCO"
	RequestTwap      RequestKind = "TWAP"
	RequestGrid      RequestKind = "GRID"
)

// Request 是带标签的执行请求：种类在构造时确定，字段按种类解释，
// 构造函数保证结构上必填的字段已经就位。
type Request struct {
	kind   RequestKind
	intent order.Intent
	oco    strategy.OcoParams
	twap   strategy.TwapParams
	grid   strategy.GridParams
}

// Kind 返回请求种类。
func (r Request) Kind() RequestKind {
	return r.kind
}

// Symbol 返回请求作用的交易对。
func (r Request) Symbol() string {
	switch r.kind {
	case RequestOco:
		return r.oco.Symbol
	case RequestTwap:
		return r.twap.Symbol
	case RequestGrid:
		return r.grid.Symbol
	default:
		return r.intent.Symbol
	}
}

// NewMarketRequest 构造市价单请求。
func NewMarketRequest(symbol string, side order.Side, quantity float64) (Request, error) {
	if err := requireSymbolSide(symbol, side); err != nil {
		return Request{}, err
	}
	if quantity <= 0 {
		return Request{}, &order.ValidationError{Field: "quantity", Reason: "必须大于0"}
	}
	return Request{kind: RequestMarket, intent: order.MarketIntent(symbol, side, quantity)}, nil
}

// NewLimitRequest 构造限价单请求。
func NewLimitRequest(symbol string, side order.Side, quantity, price float64) (Request, error) {
	if err := requireSymbolSide(symbol, side); err != nil {
		return Request{}, err
	}
	if quantity <= 0 {
		return Request{}, &order.ValidationError{Field: "quantity", Reason: "必须大于0"}
	}
	if price <= 0 {
		return Request{}, &order.ValidationError{Field: "price", Reason: "必须大于0"}
	}
	return Request{kind: RequestLimit, intent: order.LimitIntent(symbol, side, quantity, price)}, nil
}

// NewStopLimitRequest 构造止损限价单请求。
func NewStopLimitRequest(symbol string, side order.Side, quantity, price, stopPrice float64) (Request, error) {
	if err := requireSymbolSide(symbol, side); err != nil {
		return Request{}, err
	}
	if quantity <= 0 {
		return Request{}, &order.ValidationError{Field: "quantity", Reason: "必须大于0"}
	}
	if price <= 0 || stopPrice <= 0 {
		return Request{}, &order.ValidationError{Field: "price", Reason: "限价与触发价都必须大于0"}
	}
	return Request{kind: RequestStopLimit, intent: order.StopLimitIntent(symbol, side, quantity, stopPrice, price)}, nil
}

// NewOcoRequest 构造 OCO 请求。
func NewOcoRequest(params strategy.OcoParams) (Request, error) {
	if err := requireSymbolSide(params.Symbol, params.Side); err != nil {
		return Request{}, err
	}
	if params.Quantity <= 0 {
		return Request{}, &order.ValidationError{Field: "quantity", Reason: "必须大于0"}
	}
	if params.TakeProfitPrice <= 0 {
		return Request{}, &order.ValidationError{Field: "takeProfitPrice", Reason: "必须大于0"}
	}
	if params.StopLossPrice <= 0 {
		return Request{}, &order.ValidationError{Field: "stopLossPrice", Reason: "必须大于0"}
	}
	return Request{kind: RequestOco, oco: params}, nil
}

// NewTwapRequest 构造 TWAP 请求。
func NewTwapRequest(params strategy.TwapParams) (Request, error) {
	if err := requireSymbolSide(params.Symbol, params.Side); err != nil {
		return Request{}, err
	}
	if params.SliceCount <= 0 {
		return Request{}, &order.ValidationError{Field: "sliceCount", Reason: "必须大于0"}
	}
	if params.TotalQuantity <= 0 {
		return Request{}, &order.ValidationError{Field: "totalQuantity", Reason: "必须大于0"}
	}
	if params.Interval < 0 {
		return Request{}, &order.ValidationError{Field: "interval", Reason: "不能为负"}
	}
	if params.OrderType == "" {
		params.OrderType = order.TypeMarket
	}
	return Request{kind: RequestTwap, twap: params}, nil
}

// NewGridRequest 构造网格请求。
func NewGridRequest(params strategy.GridParams) (Request, error) {
	if params.Symbol == "" {
		return Request{}, &order.ValidationError{Field: "symbol", Reason: "不能为空"}
	}
	if params.LowerPrice <= 0 || params.UpperPrice <= params.LowerPrice {
		return Request{}, &order.ValidationError{Field: "upperPrice", Reason: "区间必须满足 0 < lower < upper"}
	}
	if params.LevelCount < 2 {
		return Request{}, &order.ValidationError{Field: "levelCount", Reason: "至少需要2个价位"}
	}
	if params.QuantityPerLevel <= 0 {
		return Request{}, &order.ValidationError{Field: "quantityPerLevel", Reason: "必须大于0"}
	}
	return Request{kind: RequestGrid, grid: params}, nil
}

func requireSymbolSide(symbol string, side order.Side) error {
	if symbol == "" {
		return &order.ValidationError{Field: "symbol", Reason: "不能为空"}
	}
	if side != order.SideBuy && side != order.SideSell {
		return &order.ValidationError{Field: "side", Reason: "必须为 BUY 或 SELL"}
	}
	return nil
}
