package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"futures-strategist/internal/config"
	"futures-strategist/internal/order"
)

// priceScale 为网格价位保留的小数位。
const priceScale = 8

// GridParams 描述一张网格：区间内等距价位，低于市价的挂买单、高于的挂卖单。
type GridParams struct {
	Symbol           string
	LowerPrice       float64
	UpperPrice       float64
	LevelCount       int
	QuantityPerLevel float64
	PositionSide     order.PositionSide
}

// GridLevel 为网格中的一个价位，任一时刻至多持有一笔挂单。
type GridLevel struct {
	Index  int
	Price  float64
	Side   order.Side
	Record *order.Record
	Err    string
	// Skipped 表示该价位与当前市价重合，买卖两侧都不挂。
	Skipped bool
}

// Placed 判断该价位是否成功挂出。
func (l *GridLevel) Placed() bool {
	return l.Record != nil && l.Err == ""
}

// GridPlan 为一次网格部署的结构化结果。
type GridPlan struct {
	Params       GridParams
	CurrentPrice float64
	Levels       []GridLevel
	CreatedAt    time.Time

	mu sync.Mutex
}

// Summary 返回面向操作者的一行摘要。
func (p *GridPlan) Summary() string {
	placed, failed, buys, sells := 0, 0, 0, 0
	for i := range p.Levels {
		l := &p.Levels[i]
		switch {
		case l.Placed():
			placed++
			if l.Side == order.SideBuy {
				buys++
			} else {
				sells++
			}
		case l.Err != "":
			failed++
		}
	}
	return fmt.Sprintf("网格 %s [%g, %g] 挂出 %d/%d 价位 (买%d/卖%d, 失败%d), 现价 %.2f",
		p.Params.Symbol, p.Params.LowerPrice, p.Params.UpperPrice,
		placed, p.Params.LevelCount, buys, sells, failed, p.CurrentPrice)
}

// CancelOutcome 记录单个价位的撤销结果。
type CancelOutcome struct {
	Index           int
	OrderID         string
	Status          order.Status
	AlreadyTerminal bool
	Err             string
}

// GridManager 负责网格的整体部署与拆除。
type GridManager struct {
	exec   orderExecutor
	cfg    config.GridConfig
	logger *zap.Logger
}

// NewGridManager 创建网格管理器。
func NewGridManager(exec orderExecutor, cfg config.GridConfig, logger *zap.Logger) *GridManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	return &GridManager{exec: exec, cfg: cfg, logger: logger}
}

// Deploy 计算价位并挂出全部网格单。价位之间相互独立：单个价位失败
// 不阻塞其余价位，完整的成败清单随 GridPlan 返回。
func (m *GridManager) Deploy(ctx context.Context, params GridParams) (*GridPlan, error) {
	if err := validateGridParams(params); err != nil {
		return nil, err
	}

	current, err := m.exec.Price(ctx, params.Symbol)
	if err != nil {
		return nil, fmt.Errorf("网格部署前获取市价失败: %w", err)
	}

	prices := gridPrices(params.LowerPrice, params.UpperPrice, params.LevelCount)
	currentDec := decimal.NewFromFloat(current)

	plan := &GridPlan{
		Params:       params,
		CurrentPrice: current,
		Levels:       make([]GridLevel, len(prices)),
		CreatedAt:    time.Now().UTC(),
	}

	if current < params.LowerPrice || current > params.UpperPrice {
		m.logger.Warn("当前价格在网格区间之外",
			zap.String("symbol", params.Symbol),
			zap.Float64("current", current),
			zap.Float64("lower", params.LowerPrice),
			zap.Float64("upper", params.UpperPrice),
		)
	}

	for i, price := range prices {
		level := GridLevel{Index: i, Price: price}
		cmp := decimal.NewFromFloat(price).Cmp(currentDec)
		switch {
		case cmp < 0:
			level.Side = order.SideBuy
		case cmp > 0:
			level.Side = order.SideSell
		default:
			level.Skipped = true
		}
		plan.Levels[i] = level
	}

	m.logger.Info("网格开始部署",
		zap.String("symbol", params.Symbol),
		zap.Int("levels", params.LevelCount),
		zap.Float64("current_price", current),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(m.cfg.MaxParallel)

	for i := range plan.Levels {
		level := &plan.Levels[i]
		if level.Skipped {
			continue
		}

		group.Go(func() error {
			intent := order.LimitIntent(params.Symbol, level.Side, params.QuantityPerLevel, level.Price)
			intent.PositionSide = positionSideOrBoth(params.PositionSide)

			rec, placeErr := m.exec.Place(groupCtx, intent)
			plan.mu.Lock()
			defer plan.mu.Unlock()
			if placeErr != nil {
				level.Err = placeErr.Error()
				m.logger.Error("网格价位挂单失败",
					zap.String("symbol", params.Symbol),
					zap.Int("level", level.Index+1),
					zap.Float64("price", level.Price),
					zap.Error(placeErr),
				)
				// 价位失败相互独立，不让 errgroup 取消其余价位。
				return nil
			}
			level.Record = &rec
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return plan, err
	}
	if ctx.Err() != nil {
		return plan, ctx.Err()
	}

	m.logger.Info("网格部署完成", zap.String("summary", plan.Summary()))
	return plan, nil
}

// CancelAll 尽力撤销所有仍在挂的价位，逐一收集结果而非在首个错误停下。
// 对已全部终态的网格重复调用不会产生新的错误。
func (m *GridManager) CancelAll(ctx context.Context, plan *GridPlan) ([]CancelOutcome, error) {
	outcomes := make([]CancelOutcome, 0, len(plan.Levels))
	var errs error

	for i := range plan.Levels {
		level := &plan.Levels[i]
		if level.Record == nil {
			continue
		}

		outcome := CancelOutcome{Index: level.Index, OrderID: level.Record.ExchangeOrderID}

		if level.Record.Status.Terminal() {
			outcome.Status = level.Record.Status
			outcome.AlreadyTerminal = true
			outcomes = append(outcomes, outcome)
			continue
		}

		status, err := m.exec.Cancel(ctx, level.Record.ExchangeOrderID, plan.Params.Symbol)
		if err != nil {
			outcome.Err = err.Error()
			errs = multierr.Append(errs, fmt.Errorf("价位 %d (订单 %s) 撤销失败: %w", level.Index+1, outcome.OrderID, err))
			outcomes = append(outcomes, outcome)
			continue
		}

		plan.mu.Lock()
		level.Record.Status = status
		level.Record.LastUpdate = time.Now().UTC()
		plan.mu.Unlock()

		outcome.Status = status
		outcomes = append(outcomes, outcome)
	}

	return outcomes, errs
}

// gridPrices 在 [lower, upper] 上生成 n 个含端点的等距价位，严格递增。
func gridPrices(lower, upper float64, n int) []float64 {
	lowerDec := decimal.NewFromFloat(lower)
	step := decimal.NewFromFloat(upper - lower).Div(decimal.NewFromInt(int64(n - 1)))

	prices := make([]float64, n)
	for i := 0; i < n; i++ {
		prices[i] = lowerDec.Add(step.Mul(decimal.NewFromInt(int64(i)))).Round(priceScale).InexactFloat64()
	}
	// 端点不经过步进运算，避免累计误差。
	prices[0] = lower
	prices[n-1] = upper
	return prices
}

func validateGridParams(params GridParams) error {
	if params.LowerPrice <= 0 {
		return &order.ValidationError{Field: "lowerPrice", Reason: "必须大于0"}
	}
	if params.UpperPrice <= params.LowerPrice {
		return &order.ValidationError{Field: "upperPrice", Reason: "必须大于 lowerPrice"}
	}
	if params.LevelCount < 2 {
		return &order.ValidationError{Field: "levelCount", Reason: "至少需要2个价位"}
	}
	if params.QuantityPerLevel <= 0 {
		return &order.ValidationError{Field: "quantityPerLevel", Reason: "必须大于0"}
	}
	return nil
}
