package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 约束下单参数的合法范围。
type TradingConfig struct {
	QuoteAssets []string `mapstructure:"quote_assets"`
	MinQuantity float64  `mapstructure:"min_quantity"`
	MaxQuantity float64  `mapstructure:"max_quantity"`
	HedgeMode   bool     `mapstructure:"hedge_mode"`
}

// StrategyConfig 聚合各策略的协调参数。
type StrategyConfig struct {
	Oco  OcoConfig  `mapstructure:"oco"`
	Twap TwapConfig `mapstructure:"twap"`
	Grid GridConfig `mapstructure:"grid"`
}

// OcoConfig 控制 OCO 协调器行为。
type OcoConfig struct {
	CancelRetries   int           `mapstructure:"cancel_retries"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StopLossFirst   bool          `mapstructure:"stop_loss_first"`
	TieBreakDegrade bool          `mapstructure:"tie_break_degrade"`
}

// TwapConfig 控制 TWAP 调度器行为。
type TwapConfig struct {
	SliceRetries   int  `mapstructure:"slice_retries"`
	AbortOnFailure bool `mapstructure:"abort_on_failure"`
}

// GridConfig 控制网格管理器行为。
type GridConfig struct {
	MaxParallel int `mapstructure:"max_parallel"`
}

// DatabaseConfig 管理策略流水数据库。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if len(c.Trading.QuoteAssets) == 0 {
		err = multierr.Append(err, errors.New("trading.quote_assets 至少包含一个计价资产"))
	}
	if c.Trading.MinQuantity <= 0 {
		err = multierr.Append(err, errors.New("trading.min_quantity 必须大于0"))
	}
	if c.Trading.MaxQuantity <= c.Trading.MinQuantity {
		err = multierr.Append(err, errors.New("trading.max_quantity 必须大于 min_quantity"))
	}
	if c.Strategy.Oco.CancelRetries <= 0 {
		err = multierr.Append(err, errors.New("strategy.oco.cancel_retries 必须大于0"))
	}
	if c.Strategy.Oco.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("strategy.oco.poll_interval 必须大于0"))
	}
	if c.Strategy.Twap.SliceRetries < 0 {
		err = multierr.Append(err, errors.New("strategy.twap.slice_retries 不能为负"))
	}
	if c.Strategy.Grid.MaxParallel <= 0 {
		err = multierr.Append(err, errors.New("strategy.grid.max_parallel 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
