package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"futures-strategist/internal/config"
)

// Client 负责与 Binance USDⓈ-M 交互：签名、限频闸门与瞬时错误重试都收敛在这里，
// 上层策略只会收到归一化的 OrderAck/OrderState 或带类别的 Error。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	// gate 串行化全部出站调用：交易所是所有策略共享的唯一资源。
	gate *semaphore.Weighted

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		gate:     semaphore.NewWeighted(1),
	}, nil
}

// PlaceOrder 提交一笔委托并返回交易所确认。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	var raw ccxt.Order

	err := c.callWithRetry(ctx, fmt.Sprintf("place_order_%s", strings.ToLower(req.Type)), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		orderType, price, params, err := translateRequest(req)
		if err != nil {
			return err
		}

		opts := []ccxt.CreateOrderOptions{ccxt.WithCreateOrderParams(params)}
		if price > 0 {
			opts = append(opts, ccxt.WithCreateOrderPrice(price))
		}

		result, err := c.exchange.CreateOrder(
			req.Symbol,
			orderType,
			strings.ToLower(req.Side),
			req.Quantity,
			opts...,
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return OrderAck{}, err
	}

	ack := OrderAck{
		ID:        derefString(raw.Id),
		Status:    normalizeStatus(derefString(raw.Status)),
		Timestamp: time.Now().UTC(),
	}
	if raw.Timestamp != nil {
		ack.Timestamp = time.UnixMilli(int64(*raw.Timestamp)).UTC()
	}

	if ack.ID == "" {
		return OrderAck{}, &Error{Kind: KindNetwork, Op: "place_order", Err: errors.New("交易所未返回订单号")}
	}

	return ack, nil
}

// CancelOrder 撤销指定订单。
func (c *Client) CancelOrder(ctx context.Context, id, symbol string) (OrderState, error) {
	var raw ccxt.Order

	err := c.callWithRetry(ctx, "cancel_order", func() error {
		result, err := c.exchange.CancelOrder(id, ccxt.WithCancelOrderSymbol(symbol))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return OrderState{}, err
	}

	return orderStateFrom(id, raw), nil
}

// FetchOrderState 查询订单当前状态与成交量。
func (c *Client) FetchOrderState(ctx context.Context, id, symbol string) (OrderState, error) {
	var raw ccxt.Order

	err := c.callWithRetry(ctx, "fetch_order", func() error {
		result, err := c.exchange.FetchOrder(id, ccxt.WithFetchOrderSymbol(symbol))
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return OrderState{}, err
	}

	return orderStateFrom(id, raw), nil
}

// FetchPrice 获取交易对最新成交价。
func (c *Client) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64

	err := c.callWithRetry(ctx, "fetch_price", func() error {
		ticker, err := c.exchange.FetchTicker(symbol)
		if err != nil {
			return err
		}
		if ticker.Last == nil || *ticker.Last <= 0 {
			return &Error{Kind: KindNetwork, Op: "fetch_price", Err: errors.New("行情缺少最新成交价")}
		}
		price = *ticker.Last
		return nil
	})
	if err != nil {
		return 0, err
	}

	return price, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	if _, err := c.exchange.LoadMarkets(); err != nil {
		return err
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载")
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()

		if err := c.gate.Acquire(ctx, 1); err != nil {
			return err
		}
		err := fn()
		c.gate.Release(1)

		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		normalized := classify(operation, err)

		if !IsTransient(normalized) || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.String("kind", string(normalized.Kind)),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return normalized
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.String("kind", string(normalized.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// translateRequest 把领域层的 Binance 订单类型翻译为 ccxt 统一下单参数。
// 带 stopPrice 的 limit/market 会被 ccxt 映射为 STOP / STOP_MARKET / TAKE_PROFIT。
func translateRequest(req OrderRequest) (orderType string, price float64, params map[string]interface{}, err error) {
	params = map[string]interface{}{}

	if req.ReduceOnly {
		params["reduceOnly"] = true
	}
	if req.PositionSide != "" {
		params["positionSide"] = req.PositionSide
	}
	if req.TimeInForce != "" {
		params["timeInForce"] = req.TimeInForce
	}

	switch req.Type {
	case "MARKET":
		return "market", 0, params, nil
	case "LIMIT":
		return "limit", req.Price, params, nil
	case "STOP":
		params["stopPrice"] = req.StopPrice
		return "limit", req.Price, params, nil
	case "STOP_MARKET":
		params["stopPrice"] = req.StopPrice
		delete(params, "timeInForce")
		return "market", 0, params, nil
	case "TAKE_PROFIT":
		params["stopPrice"] = req.StopPrice
		return "limit", req.Price, params, nil
	default:
		return "", 0, nil, &Error{Kind: KindRejected, Op: "place_order", Err: fmt.Errorf("不支持的订单类型 %s", req.Type)}
	}
}

func orderStateFrom(id string, raw ccxt.Order) OrderState {
	state := OrderState{ID: id}
	if derefString(raw.Id) != "" {
		state.ID = derefString(raw.Id)
	}
	state.Status = normalizeStatus(derefString(raw.Status))
	if raw.Filled != nil {
		state.FilledQuantity = *raw.Filled
	}
	return state
}

// normalizeStatus 把 ccxt 的小写统一状态映射回 Binance 风格常量。
func normalizeStatus(status string) string {
	switch strings.ToLower(status) {
	case "open":
		return "NEW"
	case "closed":
		return "FILLED"
	case "canceled", "cancelled":
		return "CANCELED"
	case "rejected":
		return "REJECTED"
	case "expired":
		return "EXPIRED"
	case "":
		return "NEW"
	default:
		return strings.ToUpper(status)
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
