package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"futures-strategist/internal/config"
	"futures-strategist/internal/exchange"
	"futures-strategist/internal/order"
	"futures-strategist/internal/store"
	"futures-strategist/internal/strategy"
)

// teardownTimeout 为策略取消后清理动作的时间预算。
const teardownTimeout = 30 * time.Second

// App 聚合核心依赖并驱动一次执行请求的完整生命周期。
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	executor *order.Executor
	registry *strategy.Registry
}

// New 按 配置 → 交易所 → 执行器 → 策略注册表 的顺序完成装配。
// sqliteStore 允许为 nil，此时策略流水不落盘。
func New(cfg *config.Config, logger *zap.Logger, sqliteStore *store.Store) (*App, error) {
	client, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	executor := order.NewExecutor(client, order.NewValidator(cfg.Trading), logger)

	var journal strategy.Journal
	if sqliteStore != nil {
		j, err := store.NewJournal(sqliteStore)
		if err != nil {
			return nil, fmt.Errorf("初始化策略流水失败: %w", err)
		}
		journal = j
	}

	registry := strategy.NewRegistry(
		strategy.NewOcoCoordinator(executor, cfg.Strategy.Oco, logger),
		strategy.NewTwapScheduler(executor, cfg.Strategy.Twap, logger),
		strategy.NewGridManager(executor, cfg.Strategy.Grid, logger),
		journal,
		logger,
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		executor: executor,
		registry: registry,
	}, nil
}

// Registry 暴露策略注册表，供调用方查询与取消。
func (a *App) Registry() *strategy.Registry {
	return a.registry
}

// Run 执行一个请求直至结束。原语请求同步下单后立即返回；
// 策略请求启动后阻塞等待了结，外部取消触发策略专属的清理。
func (a *App) Run(ctx context.Context, req Request) error {
	a.logger.Info("开始执行请求",
		zap.String("kind", string(req.Kind())),
		zap.String("symbol", req.Symbol()),
		zap.Bool("sandbox", a.cfg.Exchange.UseSandbox),
	)

	switch req.Kind() {
	case RequestMarket, RequestLimit, RequestStopLimit:
		return a.runPrimitive(ctx, req)
	case RequestOco:
		handle, err := a.registry.StartOco(ctx, req.oco)
		if err != nil {
			return err
		}
		return a.awaitStrategy(ctx, handle)
	case RequestTwap:
		handle, err := a.registry.StartTwap(ctx, req.twap)
		if err != nil {
			return err
		}
		return a.awaitStrategy(ctx, handle)
	case RequestGrid:
		handle, err := a.registry.StartGrid(ctx, req.grid)
		if err != nil {
			return err
		}
		return a.awaitStrategy(ctx, handle)
	default:
		return fmt.Errorf("未知的请求种类 %q", req.Kind())
	}
}

func (a *App) runPrimitive(ctx context.Context, req Request) error {
	rec, err := a.executor.Place(ctx, req.intent)
	if err != nil {
		return fmt.Errorf("下单失败: %w", err)
	}
	a.logger.Info("订单已提交",
		zap.String("order_id", rec.ExchangeOrderID),
		zap.String("symbol", rec.Intent.Symbol),
		zap.String("status", string(rec.Status)),
	)
	return nil
}

// awaitStrategy 等待策略了结。收到退出信号时取消策略并执行清理，
// 清理动作使用独立的限时 context，不受已取消的外层影响。
func (a *App) awaitStrategy(ctx context.Context, handle uuid.UUID) error {
	snap, err := a.registry.Wait(ctx, handle)
	if err == nil {
		a.logger.Info("策略已了结",
			zap.String("handle", handle.String()),
			zap.String("state", string(snap.State)),
			zap.String("summary", snap.Summary),
		)
		if snap.State == strategy.RunStateDegraded {
			return fmt.Errorf("策略进入 DEGRADED: %s", snap.Summary)
		}
		return nil
	}

	if !errors.Is(err, context.Canceled) {
		return err
	}

	a.logger.Info("收到退出信号，取消策略并清理", zap.String("handle", handle.String()))

	teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if cancelErr := a.registry.Cancel(teardownCtx, handle); cancelErr != nil {
		return fmt.Errorf("策略清理未完全成功: %w", cancelErr)
	}

	snap, statusErr := a.registry.Status(handle)
	if statusErr == nil {
		a.logger.Info("策略已取消", zap.String("summary", snap.Summary))
	}
	return nil
}
