package strategy

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"futures-strategist/internal/config"
	"futures-strategist/internal/exchange"
	"futures-strategist/internal/order"
)

// quantityScale 为数量保留的小数位，与交易所精度上限一致。
const quantityScale = 8

// TwapParams 描述一次 TWAP 执行计划。sliceCount 与 interval 创建后不再变化。
type TwapParams struct {
	Symbol        string
	Side          order.Side
	TotalQuantity float64
	SliceCount    int
	Interval      time.Duration
	Randomize     bool
	// OrderType 仅支持 MARKET 与 LIMIT，LIMIT 时必须给出 LimitPrice。
	OrderType    order.Type
	LimitPrice   float64
	PositionSide order.PositionSide
}

// SliceResult 记录单片的执行结果。
type SliceResult struct {
	Index    int
	Quantity float64
	Record   order.Record
	Price    float64
	Err      string
	Skipped  bool
}

// Placed 判断该片是否成功挂出。
func (s SliceResult) Placed() bool {
	return s.Err == "" && !s.Skipped
}

// TwapPlan 为一次 TWAP 执行的结构化结果，部分成功是一等结果而非异常。
type TwapPlan struct {
	Params           TwapParams
	Slices           []SliceResult
	ExecutedQuantity float64
	AveragePrice     float64
	Aborted          bool
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Summary 返回面向操作者的一行摘要。
func (p *TwapPlan) Summary() string {
	placed := 0
	for _, s := range p.Slices {
		if s.Placed() {
			placed++
		}
	}
	return fmt.Sprintf("TWAP %s %s 完成 %d/%d 片，累计 %.8f/%.8f，均价 %.2f",
		p.Params.Symbol, p.Params.Side, placed, p.Params.SliceCount,
		p.ExecutedQuantity, p.Params.TotalQuantity, p.AveragePrice)
}

// TwapScheduler 按时间把大单拆成小片串行执行。
// 同一个调度器会被多个并发策略共享，rand.Rand 本身非并发安全，
// 所有随机数访问都必须持有 rngMu。
type TwapScheduler struct {
	exec   orderExecutor
	cfg    config.TwapConfig
	logger *zap.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	// wait 在片与片之间挂起，测试中可替换为立即返回。
	wait func(ctx context.Context, d time.Duration) error
}

// NewTwapScheduler 创建 TWAP 调度器。
func NewTwapScheduler(exec orderExecutor, cfg config.TwapConfig, logger *zap.Logger) *TwapScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SliceRetries < 0 {
		cfg.SliceRetries = 0
	}
	return &TwapScheduler{
		exec:   exec,
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		wait:   waitCtx,
	}
}

func waitCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute 串行执行全部分片：第 N+1 片必须等第 N 片的下单尝试得到结果。
// 外部取消在下一个挂起点生效，已挂出的片保持原样。
func (s *TwapScheduler) Execute(ctx context.Context, params TwapParams) (*TwapPlan, error) {
	if err := validateTwapParams(params); err != nil {
		return nil, err
	}

	s.rngMu.Lock()
	quantities := sliceQuantities(params.TotalQuantity, params.SliceCount, params.Randomize, s.rng)
	s.rngMu.Unlock()

	plan := &TwapPlan{
		Params:    params,
		Slices:    make([]SliceResult, 0, params.SliceCount),
		StartedAt: time.Now().UTC(),
	}

	s.logger.Info("TWAP 开始执行",
		zap.String("symbol", params.Symbol),
		zap.String("side", string(params.Side)),
		zap.Float64("total_quantity", params.TotalQuantity),
		zap.Int("slices", params.SliceCount),
		zap.Duration("interval", params.Interval),
		zap.Bool("randomize", params.Randomize),
	)

	var priceSum decimal.Decimal
	pricedSlices := 0

	for i, qty := range quantities {
		if ctx.Err() != nil {
			plan.FinishedAt = time.Now().UTC()
			return plan, ctx.Err()
		}

		result := s.executeSlice(ctx, params, i, qty)
		plan.Slices = append(plan.Slices, result)

		if result.Placed() {
			plan.ExecutedQuantity = decimal.NewFromFloat(plan.ExecutedQuantity).
				Add(decimal.NewFromFloat(result.Quantity)).InexactFloat64()
			if result.Price > 0 {
				priceSum = priceSum.Add(decimal.NewFromFloat(result.Price))
				pricedSlices++
			}
		} else if s.cfg.AbortOnFailure {
			plan.Aborted = true
			plan.FinishedAt = time.Now().UTC()
			s.logger.Warn("TWAP 按策略在首个失败片后中止",
				zap.String("symbol", params.Symbol),
				zap.Int("failed_slice", i+1),
			)
			s.finishStats(plan, priceSum, pricedSlices)
			return plan, nil
		}

		if i < len(quantities)-1 {
			interval := params.Interval
			if params.Randomize {
				s.rngMu.Lock()
				interval = jitterDuration(interval, s.rng)
				s.rngMu.Unlock()
			}
			if err := s.wait(ctx, interval); err != nil {
				plan.FinishedAt = time.Now().UTC()
				s.finishStats(plan, priceSum, pricedSlices)
				return plan, err
			}
		}
	}

	plan.FinishedAt = time.Now().UTC()
	s.finishStats(plan, priceSum, pricedSlices)

	s.logger.Info("TWAP 执行完成",
		zap.String("symbol", params.Symbol),
		zap.Float64("executed", plan.ExecutedQuantity),
		zap.Float64("total", params.TotalQuantity),
		zap.Float64("avg_price", plan.AveragePrice),
	)

	return plan, nil
}

func (s *TwapScheduler) finishStats(plan *TwapPlan, priceSum decimal.Decimal, pricedSlices int) {
	if pricedSlices > 0 {
		plan.AveragePrice = priceSum.Div(decimal.NewFromInt(int64(pricedSlices))).InexactFloat64()
	}
}

// executeSlice 执行单片：瞬时失败在限定次数内重试，业务拒单记录缺口后继续。
func (s *TwapScheduler) executeSlice(ctx context.Context, params TwapParams, index int, qty float64) SliceResult {
	result := SliceResult{Index: index, Quantity: qty}

	intent := order.Intent{
		Symbol:       params.Symbol,
		Side:         params.Side,
		Quantity:     qty,
		Type:         params.OrderType,
		PositionSide: positionSideOrBoth(params.PositionSide),
	}
	if params.OrderType == order.TypeLimit {
		intent.Price = params.LimitPrice
		intent.TimeInForce = order.TifGTC
	}

	if price, err := s.exec.Price(ctx, params.Symbol); err == nil {
		result.Price = price
	}

	var lastErr error
	for attempt := 0; attempt <= s.cfg.SliceRetries; attempt++ {
		rec, err := s.exec.Place(ctx, intent)
		if err == nil {
			result.Record = rec
			s.logger.Info("TWAP 分片已挂出",
				zap.String("symbol", params.Symbol),
				zap.Int("slice", index+1),
				zap.Int("total_slices", params.SliceCount),
				zap.Float64("quantity", qty),
				zap.String("order_id", rec.ExchangeOrderID),
			)
			return result
		}
		lastErr = err

		if !exchange.IsTransient(err) || ctx.Err() != nil {
			break
		}
		s.logger.Warn("TWAP 分片瞬时失败，重试",
			zap.Int("slice", index+1),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	result.Err = lastErr.Error()
	result.Skipped = true
	s.logger.Error("TWAP 分片失败，记录缺口后继续",
		zap.String("symbol", params.Symbol),
		zap.Int("slice", index+1),
		zap.Error(lastErr),
	)
	return result
}

// sliceQuantities 把总量拆成 n 片。randomize 时每片按 ±20% 扰动后归一化，
// 末片吸收舍入余量；任何情况下片量之和都不会超过总量。
func sliceQuantities(total float64, n int, randomize bool, rng *rand.Rand) []float64 {
	totalDec := decimal.NewFromFloat(total)
	parts := make([]decimal.Decimal, n)

	if randomize && n > 1 {
		factors := make([]decimal.Decimal, n)
		var factorSum decimal.Decimal
		for i := range factors {
			f := decimal.NewFromFloat(0.8 + rng.Float64()*0.4)
			factors[i] = f
			factorSum = factorSum.Add(f)
		}
		for i := range parts {
			parts[i] = totalDec.Mul(factors[i]).Div(factorSum).RoundDown(quantityScale)
		}
	} else {
		base := totalDec.Div(decimal.NewFromInt(int64(n))).RoundDown(quantityScale)
		for i := range parts {
			parts[i] = base
		}
	}

	var sumFirst decimal.Decimal
	for i := 0; i < n-1; i++ {
		sumFirst = sumFirst.Add(parts[i])
	}
	last := totalDec.Sub(sumFirst)
	if last.IsNegative() {
		last = decimal.Zero
	}
	parts[n-1] = last.RoundDown(quantityScale)

	out := make([]float64, n)
	for i, p := range parts {
		out[i] = p.InexactFloat64()
	}
	return out
}

func jitterDuration(d time.Duration, rng *rand.Rand) time.Duration {
	factor := 0.8 + rng.Float64()*0.4
	return time.Duration(float64(d) * factor)
}

func validateTwapParams(params TwapParams) error {
	if params.SliceCount <= 0 {
		return &order.ValidationError{Field: "sliceCount", Reason: "必须大于0"}
	}
	if params.TotalQuantity <= 0 {
		return &order.ValidationError{Field: "totalQuantity", Reason: "必须大于0"}
	}
	if params.Interval < 0 {
		return &order.ValidationError{Field: "interval", Reason: "不能为负"}
	}
	switch params.OrderType {
	case order.TypeMarket:
	case order.TypeLimit:
		if params.LimitPrice <= 0 {
			return &order.ValidationError{Field: "limitPrice", Reason: "限价分片必须提供正的价格"}
		}
	case "":
		return &order.ValidationError{Field: "orderType", Reason: "必须指定 MARKET 或 LIMIT"}
	default:
		return &order.ValidationError{Field: "orderType", Reason: fmt.Sprintf("TWAP 不支持订单类型 %q", params.OrderType)}
	}
	return nil
}
