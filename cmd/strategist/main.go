package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"futures-strategist/internal/app"
	"futures-strategist/internal/config"
	"futures-strategist/internal/log"
	"futures-strategist/internal/order"
	"futures-strategist/internal/store"
	"futures-strategist/internal/strategy"
)

type cliFlags struct {
	configPath string
	kind       string
	symbol     string
	side       string
	quantity   float64
	price      float64
	stopPrice  float64

	takeProfit float64
	stopLoss   float64
	stopLimit  float64

	slices    int
	interval  time.Duration
	randomize bool

	lower         float64
	upper         float64
	levels        int
	levelQuantity float64
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&f.kind, "strategy", "", "执行种类: market|limit|stop-limit|oco|twap|grid")
	flag.StringVar(&f.symbol, "symbol", "", "交易对，如 BTCUSDT")
	flag.StringVar(&f.side, "side", "", "方向: BUY|SELL")
	flag.Float64Var(&f.quantity, "quantity", 0, "数量")
	flag.Float64Var(&f.price, "price", 0, "限价")
	flag.Float64Var(&f.stopPrice, "stop-price", 0, "触发价")
	flag.Float64Var(&f.takeProfit, "take-profit", 0, "OCO 止盈价")
	flag.Float64Var(&f.stopLoss, "stop-loss", 0, "OCO 止损触发价")
	flag.Float64Var(&f.stopLimit, "stop-limit", 0, "OCO 止损限价，0 表示止损市价")
	flag.IntVar(&f.slices, "slices", 0, "TWAP 分片数")
	flag.DurationVar(&f.interval, "interval", time.Minute, "TWAP 片间间隔")
	flag.BoolVar(&f.randomize, "randomize", false, "TWAP 数量与间隔加随机扰动")
	flag.Float64Var(&f.lower, "lower", 0, "网格下界价格")
	flag.Float64Var(&f.upper, "upper", 0, "网格上界价格")
	flag.IntVar(&f.levels, "levels", 0, "网格价位数")
	flag.Float64Var(&f.levelQuantity, "level-quantity", 0, "网格每价位数量")
	flag.Parse()
	return f
}

func buildRequest(f cliFlags) (app.Request, error) {
	side := order.Side(f.side)

	switch f.kind {
	case "market":
		return app.NewMarketRequest(f.symbol, side, f.quantity)
	case "limit":
		return app.NewLimitRequest(f.symbol, side, f.quantity, f.price)
	case "stop-limit":
		return app.NewStopLimitRequest(f.symbol, side, f.quantity, f.price, f.stopPrice)
	case "oco":
		return app.NewOcoRequest(strategy.OcoParams{
			Symbol:          f.symbol,
			Side:            side,
			Quantity:        f.quantity,
			TakeProfitPrice: f.takeProfit,
			StopLossPrice:   f.stopLoss,
			StopLimitPrice:  f.stopLimit,
		})
	case "twap":
		return app.NewTwapRequest(strategy.TwapParams{
			Symbol:        f.symbol,
			Side:          side,
			TotalQuantity: f.quantity,
			SliceCount:    f.slices,
			Interval:      f.interval,
			Randomize:     f.randomize,
		})
	case "grid":
		return app.NewGridRequest(strategy.GridParams{
			Symbol:           f.symbol,
			LowerPrice:       f.lower,
			UpperPrice:       f.upper,
			LevelCount:       f.levels,
			QuantityPerLevel: f.levelQuantity,
		})
	default:
		return app.Request{}, fmt.Errorf("未知的执行种类 %q", f.kind)
	}
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	req, err := buildRequest(flags)
	if err != nil {
		logger.Error("请求参数无效", zap.Error(err))
		os.Exit(1)
	}

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	strategist, err := app.New(cfg, logger, sqliteStore)
	if err != nil {
		logger.Error("系统装配失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := strategist.Run(ctx, req); err != nil {
		logger.Error("执行失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("执行完成，系统退出")
}
