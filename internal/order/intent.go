package order

import "time"

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide 表示持仓方向，双向持仓模式下为 LONG/SHORT。
type PositionSide string

const (
	PositionBoth  PositionSide = "BOTH"
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Type 表示订单类型，沿用 Binance 合约的类型常量。
type Type string

const (
	TypeMarket     Type = "MARKET"
	TypeLimit      Type = "LIMIT"
	TypeStop       Type = "STOP"
	TypeStopMarket Type = "STOP_MARKET"
	TypeTakeProfit Type = "TAKE_PROFIT"
)

// TimeInForce 表示订单有效期策略。
type TimeInForce string

const (
	TifGTC TimeInForce = "GTC"
	TifIOC TimeInForce = "IOC"
	TifFOK TimeInForce = "FOK"
	TifGTX TimeInForce = "GTX"
)

// Status 表示订单生命周期状态。
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// Intent 描述一笔待提交的委托，构造后不再修改。
type Intent struct {
	Symbol       string
	Side         Side
	Quantity     float64
	Price        float64
	StopPrice    float64
	Type         Type
	PositionSide PositionSide
	ReduceOnly   bool
	TimeInForce  TimeInForce
}

// Record 记录一笔已提交订单及其最近一次观测到的状态。
// 状态只由交易所查询结果驱动，策略对象持有期间不会被删除。
type Record struct {
	ExchangeOrderID string
	Intent          Intent
	Status          Status
	FilledQuantity  float64
	LastUpdate      time.Time
}

// MarketIntent 构造市价单意图。
func MarketIntent(symbol string, side Side, quantity float64) Intent {
	return Intent{
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		Type:         TypeMarket,
		PositionSide: PositionBoth,
	}
}

// LimitIntent 构造限价单意图。
func LimitIntent(symbol string, side Side, quantity, price float64) Intent {
	return Intent{
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		Price:        price,
		Type:         TypeLimit,
		PositionSide: PositionBoth,
		TimeInForce:  TifGTC,
	}
}

// StopLimitIntent 构造止损限价单意图：stopPrice 触发后以 limitPrice 挂单。
func StopLimitIntent(symbol string, side Side, quantity, stopPrice, limitPrice float64) Intent {
	return Intent{
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		Price:        limitPrice,
		StopPrice:    stopPrice,
		Type:         TypeStop,
		PositionSide: PositionBoth,
		TimeInForce:  TifGTC,
	}
}
