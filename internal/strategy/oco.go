package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"futures-strategist/internal/config"
	"futures-strategist/internal/order"
)

// GroupState 为 OCO 组的状态机状态。
type GroupState string

const (
	GroupPlacingTP GroupState = "PLACING_TP"
	GroupPlacingSL GroupState = "PLACING_SL"
	GroupActive    GroupState = "ACTIVE"
	GroupResolving GroupState = "RESOLVING"
	GroupResolved  GroupState = "RESOLVED"
	// GroupDegraded 表示不变量无法自动恢复，需要人工介入清理。
	GroupDegraded GroupState = "DEGRADED"
	GroupAborted  GroupState = "ABORTED"
)

// Leg 标识 OCO 组中的一条腿。
type Leg string

const (
	LegNone       Leg = ""
	LegTakeProfit Leg = "TAKE_PROFIT"
	LegStopLoss   Leg = "STOP_LOSS"
)

// OcoParams 描述一组 OCO 意图：同方向的止盈与止损，平掉既有仓位。
type OcoParams struct {
	Symbol          string
	Side            order.Side
	Quantity        float64
	TakeProfitPrice float64
	StopLossPrice   float64
	// StopLimitPrice 大于0时止损腿使用止损限价单，否则使用止损市价单。
	StopLimitPrice float64
	PositionSide   order.PositionSide
}

// OcoGroup 持有两条腿的订单记录并维护组级不变量：
// 组进入 RESOLVED 后，两条腿中至多一条处于非终态。
type OcoGroup struct {
	mu sync.Mutex

	params     OcoParams
	state      GroupState
	takeProfit order.Record
	stopLoss   order.Record
	filledLeg  Leg
	note       string
}

// OcoReport 为 OCO 组的结构化快照。
type OcoReport struct {
	Params     OcoParams
	State      GroupState
	TakeProfit order.Record
	StopLoss   order.Record
	FilledLeg  Leg
	Note       string
}

// Report 返回组的当前快照。
func (g *OcoGroup) Report() OcoReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	return OcoReport{
		Params:     g.params,
		State:      g.state,
		TakeProfit: g.takeProfit,
		StopLoss:   g.stopLoss,
		FilledLeg:  g.filledLeg,
		Note:       g.note,
	}
}

// State 返回组状态。
func (g *OcoGroup) State() GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *OcoGroup) setState(state GroupState) {
	g.mu.Lock()
	g.state = state
	g.mu.Unlock()
}

func (g *OcoGroup) setNote(format string, args ...interface{}) {
	g.mu.Lock()
	g.note = fmt.Sprintf(format, args...)
	g.mu.Unlock()
}

// Summary 返回面向操作者的一行摘要。
func (r OcoReport) Summary() string {
	switch r.State {
	case GroupResolved:
		return fmt.Sprintf("OCO %s 已了结，成交腿=%s", r.Params.Symbol, r.FilledLeg)
	case GroupDegraded:
		return fmt.Sprintf("OCO %s 进入 DEGRADED，需人工处理: %s (TP=%s SL=%s)",
			r.Params.Symbol, r.Note, r.TakeProfit.ExchangeOrderID, r.StopLoss.ExchangeOrderID)
	case GroupAborted:
		return fmt.Sprintf("OCO %s 已中止: %s", r.Params.Symbol, r.Note)
	default:
		return fmt.Sprintf("OCO %s 状态=%s", r.Params.Symbol, r.State)
	}
}

// OcoCoordinator 把一对止盈/止损订单作为单个逻辑单元下发并看护。
type OcoCoordinator struct {
	exec   orderExecutor
	cfg    config.OcoConfig
	logger *zap.Logger
}

// NewOcoCoordinator 创建 OCO 协调器。
func NewOcoCoordinator(exec orderExecutor, cfg config.OcoConfig, logger *zap.Logger) *OcoCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CancelRetries <= 0 {
		cfg.CancelRetries = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &OcoCoordinator{exec: exec, cfg: cfg, logger: logger}
}

// Place 串行下发两条腿。先下的腿失败直接中止；后下的腿失败时自动撤销
// 先下的腿，撤销也失败则组进入 DEGRADED 并携带订单号供人工清理。
func (c *OcoCoordinator) Place(ctx context.Context, params OcoParams) (*OcoGroup, error) {
	group := &OcoGroup{params: params, state: GroupPlacingTP}

	c.warnImplausiblePrices(ctx, params)

	tpIntent := order.Intent{
		Symbol:       params.Symbol,
		Side:         params.Side,
		Quantity:     params.Quantity,
		Price:        params.TakeProfitPrice,
		StopPrice:    params.TakeProfitPrice,
		Type:         order.TypeTakeProfit,
		PositionSide: positionSideOrBoth(params.PositionSide),
		ReduceOnly:   true,
		TimeInForce:  order.TifGTC,
	}

	slIntent := order.Intent{
		Symbol:       params.Symbol,
		Side:         params.Side,
		Quantity:     params.Quantity,
		StopPrice:    params.StopLossPrice,
		Type:         order.TypeStopMarket,
		PositionSide: positionSideOrBoth(params.PositionSide),
		ReduceOnly:   true,
	}
	if params.StopLimitPrice > 0 {
		slIntent.Type = order.TypeStop
		slIntent.Price = params.StopLimitPrice
		slIntent.TimeInForce = order.TifGTC
	}

	first, second := tpIntent, slIntent
	firstLeg, secondLeg := LegTakeProfit, LegStopLoss
	if c.cfg.StopLossFirst {
		first, second = slIntent, tpIntent
		firstLeg, secondLeg = LegStopLoss, LegTakeProfit
		group.setState(GroupPlacingSL)
	}

	firstRec, err := c.exec.Place(ctx, first)
	if err != nil {
		group.setState(GroupAborted)
		group.setNote("首腿(%s)下单失败", firstLeg)
		return group, fmt.Errorf("OCO 首腿下单失败: %w", err)
	}
	group.assignLeg(firstLeg, firstRec)

	if firstLeg == LegTakeProfit {
		group.setState(GroupPlacingSL)
	} else {
		group.setState(GroupPlacingTP)
	}

	secondRec, err := c.exec.Place(ctx, second)
	if err != nil {
		c.logger.Warn("OCO 次腿下单失败，回滚首腿",
			zap.String("symbol", params.Symbol),
			zap.String("first_leg", string(firstLeg)),
			zap.String("first_order_id", firstRec.ExchangeOrderID),
			zap.Error(err),
		)

		if _, cancelErr := c.exec.Cancel(ctx, firstRec.ExchangeOrderID, params.Symbol); cancelErr != nil {
			group.setState(GroupDegraded)
			group.setNote("次腿(%s)下单失败且首腿 %s 撤销失败", secondLeg, firstRec.ExchangeOrderID)
			return group, multierr.Combine(
				fmt.Errorf("OCO 次腿下单失败: %w", err),
				fmt.Errorf("首腿撤销失败: %w", cancelErr),
			)
		}

		group.setState(GroupAborted)
		group.setNote("次腿(%s)下单失败，首腿已撤销", secondLeg)
		return group, fmt.Errorf("OCO 次腿下单失败(首腿已撤销): %w", err)
	}
	group.assignLeg(secondLeg, secondRec)
	group.setState(GroupActive)

	c.logger.Info("OCO 双腿已挂出",
		zap.String("symbol", params.Symbol),
		zap.String("tp_order_id", group.takeProfit.ExchangeOrderID),
		zap.String("sl_order_id", group.stopLoss.ExchangeOrderID),
	)

	return group, nil
}

// Monitor 轮询两条腿直至组了结。任一腿成交立即撤销另一腿；
// 撤销在有限次数内重试，耗尽后组进入 DEGRADED 而非静默成功。
func (c *OcoCoordinator) Monitor(ctx context.Context, group *OcoGroup) error {
	if group.State() != GroupActive {
		return fmt.Errorf("OCO 组状态 %s 不可监控", group.State())
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		tpFilled, slFilled, pollErr := c.pollLegs(ctx, group)
		if pollErr != nil {
			// 瞬时查询失败不改变组状态，等下一轮。
			c.logger.Warn("OCO 轮询失败", zap.String("symbol", group.params.Symbol), zap.Error(pollErr))
			continue
		}

		switch {
		case tpFilled && slFilled:
			// 同一轮两腿都报成交：快市下的竞态，不猜测哪个权威。
			if c.cfg.TieBreakDegrade {
				group.setState(GroupDegraded)
				group.setNote("两腿在同一轮询周期内均报成交")
				c.logger.Error("OCO 两腿同时成交，组进入 DEGRADED",
					zap.String("symbol", group.params.Symbol),
					zap.String("tp_order_id", group.takeProfit.ExchangeOrderID),
					zap.String("sl_order_id", group.stopLoss.ExchangeOrderID),
				)
				return nil
			}
			return c.resolve(ctx, group, LegTakeProfit)
		case tpFilled:
			return c.resolve(ctx, group, LegTakeProfit)
		case slFilled:
			return c.resolve(ctx, group, LegStopLoss)
		}

		if group.bothLegsTerminal() {
			group.setState(GroupResolved)
			group.setNote("两腿均已进入终态且无成交")
			return nil
		}
	}
}

// CancelGroup 人工撤销两条腿，尽力而为并汇总失败。
func (c *OcoCoordinator) CancelGroup(ctx context.Context, group *OcoGroup) error {
	report := group.Report()

	var err error
	for _, leg := range []struct {
		name Leg
		rec  order.Record
	}{
		{LegTakeProfit, report.TakeProfit},
		{LegStopLoss, report.StopLoss},
	} {
		if leg.rec.ExchangeOrderID == "" || leg.rec.Status.Terminal() {
			continue
		}
		status, cancelErr := c.exec.Cancel(ctx, leg.rec.ExchangeOrderID, report.Params.Symbol)
		if cancelErr != nil {
			err = multierr.Append(err, fmt.Errorf("撤销 %s 腿失败: %w", leg.name, cancelErr))
			continue
		}
		group.updateLeg(leg.name, status, leg.rec.FilledQuantity)
	}

	if err != nil {
		group.setState(GroupDegraded)
		group.setNote("人工撤销未完全成功")
		return err
	}

	group.setState(GroupResolved)
	group.setNote("人工撤销完成")
	return nil
}

func (c *OcoCoordinator) pollLegs(ctx context.Context, group *OcoGroup) (tpFilled, slFilled bool, err error) {
	report := group.Report()

	tpStatus, tpQty, tpErr := c.exec.Status(ctx, report.TakeProfit.ExchangeOrderID, report.Params.Symbol)
	if tpErr == nil {
		group.updateLeg(LegTakeProfit, tpStatus, tpQty)
	}

	slStatus, slQty, slErr := c.exec.Status(ctx, report.StopLoss.ExchangeOrderID, report.Params.Symbol)
	if slErr == nil {
		group.updateLeg(LegStopLoss, slStatus, slQty)
	}

	if tpErr != nil || slErr != nil {
		return false, false, multierr.Combine(tpErr, slErr)
	}

	return tpStatus == order.StatusFilled, slStatus == order.StatusFilled, nil
}

func (c *OcoCoordinator) resolve(ctx context.Context, group *OcoGroup, filled Leg) error {
	group.setState(GroupResolving)
	group.mu.Lock()
	group.filledLeg = filled
	group.mu.Unlock()

	sibling := LegStopLoss
	if filled == LegStopLoss {
		sibling = LegTakeProfit
	}
	siblingRec := group.leg(sibling)

	c.logger.Info("OCO 检测到成交，撤销兄弟腿",
		zap.String("symbol", group.params.Symbol),
		zap.String("filled_leg", string(filled)),
		zap.String("sibling_order_id", siblingRec.ExchangeOrderID),
	)

	if siblingRec.Status.Terminal() {
		group.setState(GroupResolved)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.CancelRetries; attempt++ {
		status, err := c.exec.Cancel(ctx, siblingRec.ExchangeOrderID, group.params.Symbol)
		if err == nil {
			group.updateLeg(sibling, status, siblingRec.FilledQuantity)
			group.setState(GroupResolved)
			return nil
		}
		lastErr = err

		// 兄弟腿可能在撤销途中也成交了：确认一次再决定是否继续。
		if current, _, statusErr := c.exec.Status(ctx, siblingRec.ExchangeOrderID, group.params.Symbol); statusErr == nil && current.Terminal() {
			group.updateLeg(sibling, current, siblingRec.FilledQuantity)
			if current == order.StatusFilled {
				group.setState(GroupDegraded)
				group.setNote("兄弟腿在撤销前已成交")
				return nil
			}
			group.setState(GroupResolved)
			return nil
		}

		c.logger.Warn("OCO 兄弟腿撤销失败",
			zap.String("symbol", group.params.Symbol),
			zap.String("sibling_order_id", siblingRec.ExchangeOrderID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			break
		}
	}

	group.setState(GroupDegraded)
	group.setNote("兄弟腿 %s 撤销重试耗尽", siblingRec.ExchangeOrderID)
	return fmt.Errorf("OCO 兄弟腿撤销重试耗尽: %w", lastErr)
}

func (c *OcoCoordinator) warnImplausiblePrices(ctx context.Context, params OcoParams) {
	current, err := c.exec.Price(ctx, params.Symbol)
	if err != nil {
		c.logger.Debug("获取当前价格失败，跳过价格合理性检查", zap.Error(err))
		return
	}

	if params.Side == order.SideSell {
		if params.TakeProfitPrice <= current {
			c.logger.Warn("止盈价低于当前价", zap.Float64("take_profit", params.TakeProfitPrice), zap.Float64("current", current))
		}
		if params.StopLossPrice >= current {
			c.logger.Warn("止损价高于当前价", zap.Float64("stop_loss", params.StopLossPrice), zap.Float64("current", current))
		}
		return
	}

	if params.TakeProfitPrice >= current {
		c.logger.Warn("止盈价高于当前价", zap.Float64("take_profit", params.TakeProfitPrice), zap.Float64("current", current))
	}
	if params.StopLossPrice <= current {
		c.logger.Warn("止损价低于当前价", zap.Float64("stop_loss", params.StopLossPrice), zap.Float64("current", current))
	}
}

func (g *OcoGroup) assignLeg(leg Leg, rec order.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if leg == LegTakeProfit {
		g.takeProfit = rec
	} else {
		g.stopLoss = rec
	}
}

func (g *OcoGroup) leg(leg Leg) order.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	if leg == LegTakeProfit {
		return g.takeProfit
	}
	return g.stopLoss
}

func (g *OcoGroup) updateLeg(leg Leg, status order.Status, filled float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UTC()
	if leg == LegTakeProfit {
		g.takeProfit.Status = status
		g.takeProfit.FilledQuantity = filled
		g.takeProfit.LastUpdate = now
		return
	}
	g.stopLoss.Status = status
	g.stopLoss.FilledQuantity = filled
	g.stopLoss.LastUpdate = now
}

func (g *OcoGroup) bothLegsTerminal() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.takeProfit.Status.Terminal() && g.stopLoss.Status.Terminal()
}

func positionSideOrBoth(side order.PositionSide) order.PositionSide {
	if side == "" {
		return order.PositionBoth
	}
	return side
}
