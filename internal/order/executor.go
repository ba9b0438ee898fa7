package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"futures-strategist/internal/exchange"
)

type exchangeClient interface {
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error)
	CancelOrder(ctx context.Context, id, symbol string) (exchange.OrderState, error)
	FetchOrderState(ctx context.Context, id, symbol string) (exchange.OrderState, error)
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

// Executor 执行单笔原语订单操作：校验、一次交易所调用、一条日志。
// 下单不具备幂等性：同一逻辑订单在超时等歧义结果后必须先查询状态，
// 不能直接重新 Place。
type Executor struct {
	client    exchangeClient
	validator *Validator
	logger    *zap.Logger
}

// NewExecutor 创建原语订单执行器。
func NewExecutor(client exchangeClient, validator *Validator, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client:    client,
		validator: validator,
		logger:    logger,
	}
}

// Place 校验并提交一笔委托。业务拒单原样返回，不做执行器层重试。
func (e *Executor) Place(ctx context.Context, intent Intent) (Record, error) {
	if err := e.validator.Validate(intent); err != nil {
		return Record{}, err
	}

	req := exchange.OrderRequest{
		Symbol:       strings.ToUpper(intent.Symbol),
		Side:         string(intent.Side),
		Type:         string(intent.Type),
		Quantity:     intent.Quantity,
		Price:        intent.Price,
		StopPrice:    intent.StopPrice,
		TimeInForce:  string(intent.TimeInForce),
		PositionSide: string(intent.PositionSide),
		ReduceOnly:   intent.ReduceOnly,
	}

	ack, err := e.client.PlaceOrder(ctx, req)
	if err != nil {
		e.logger.Error("下单失败",
			zap.String("symbol", req.Symbol),
			zap.String("side", req.Side),
			zap.String("type", req.Type),
			zap.Float64("quantity", req.Quantity),
			zap.Error(err),
		)
		return Record{}, fmt.Errorf("下单失败: %w", err)
	}

	e.logger.Info("订单已提交",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side),
		zap.String("type", req.Type),
		zap.Float64("quantity", req.Quantity),
		zap.String("order_id", ack.ID),
		zap.String("status", ack.Status),
	)

	return Record{
		ExchangeOrderID: ack.ID,
		Intent:          intent,
		Status:          Status(ack.Status),
		LastUpdate:      ack.Timestamp,
	}, nil
}

// Cancel 撤销一笔订单，返回撤销后的状态。
func (e *Executor) Cancel(ctx context.Context, id, symbol string) (Status, error) {
	state, err := e.client.CancelOrder(ctx, id, strings.ToUpper(symbol))
	if err != nil {
		e.logger.Error("撤单失败",
			zap.String("symbol", symbol),
			zap.String("order_id", id),
			zap.Error(err),
		)
		return "", fmt.Errorf("撤单失败: %w", err)
	}

	e.logger.Info("订单已撤销",
		zap.String("symbol", symbol),
		zap.String("order_id", id),
		zap.String("status", state.Status),
	)
	return Status(state.Status), nil
}

// Status 查询订单当前状态与累计成交量。
func (e *Executor) Status(ctx context.Context, id, symbol string) (Status, float64, error) {
	state, err := e.client.FetchOrderState(ctx, id, strings.ToUpper(symbol))
	if err != nil {
		return "", 0, fmt.Errorf("查询订单状态失败: %w", err)
	}
	return Status(state.Status), state.FilledQuantity, nil
}

// Price 获取交易对当前价格。
func (e *Executor) Price(ctx context.Context, symbol string) (float64, error) {
	price, err := e.client.FetchPrice(ctx, strings.ToUpper(symbol))
	if err != nil {
		return 0, fmt.Errorf("获取当前价格失败: %w", err)
	}
	return price, nil
}

// Refresh 用最新交易所状态更新订单记录。
func (e *Executor) Refresh(ctx context.Context, rec *Record) error {
	status, filled, err := e.Status(ctx, rec.ExchangeOrderID, rec.Intent.Symbol)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.FilledQuantity = filled
	rec.LastUpdate = time.Now().UTC()
	return nil
}
