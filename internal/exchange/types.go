package exchange

import "time"

// OrderRequest 为发往交易所的单笔委托参数。
type OrderRequest struct {
	Symbol       string
	Side         string // BUY | SELL
	Type         string // MARKET | LIMIT | STOP | STOP_MARKET | TAKE_PROFIT
	Quantity     float64
	Price        float64
	StopPrice    float64
	TimeInForce  string
	PositionSide string
	ReduceOnly   bool
}

// OrderAck 为下单成功后的交易所确认。
type OrderAck struct {
	ID        string
	Status    string
	Timestamp time.Time
}

// OrderState 为查询或撤单返回的订单状态。
type OrderState struct {
	ID             string
	Status         string
	FilledQuantity float64
}
