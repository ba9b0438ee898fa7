package order

import (
	"fmt"
	"regexp"
	"strings"

	"futures-strategist/internal/config"
)

// ValidationError 指出校验失败的字段，校验失败绝不触发网络调用。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("参数校验失败 %s: %s", e.Field, e.Reason)
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// Validator 在任何请求发出前校验下单意图。
type Validator struct {
	cfg config.TradingConfig
}

// NewValidator 创建校验器。
func NewValidator(cfg config.TradingConfig) *Validator {
	return &Validator{cfg: cfg}
}

// Validate 校验下单意图，返回第一个不合法的字段。
func (v *Validator) Validate(intent Intent) error {
	symbol := strings.ToUpper(intent.Symbol)
	if !symbolPattern.MatchString(symbol) {
		return &ValidationError{Field: "symbol", Reason: fmt.Sprintf("%q 不是合法的合约符号", intent.Symbol)}
	}
	if !v.hasKnownQuote(symbol) {
		return &ValidationError{
			Field:  "symbol",
			Reason: fmt.Sprintf("%q 未以已知计价资产结尾 (%s)", intent.Symbol, strings.Join(v.cfg.QuoteAssets, "/")),
		}
	}

	if intent.Side != SideBuy && intent.Side != SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("%q 必须为 BUY 或 SELL", intent.Side)}
	}

	if intent.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "必须大于0"}
	}
	if intent.Quantity < v.cfg.MinQuantity {
		return &ValidationError{Field: "quantity", Reason: fmt.Sprintf("%v 小于最小下单量 %v", intent.Quantity, v.cfg.MinQuantity)}
	}
	if intent.Quantity > v.cfg.MaxQuantity {
		return &ValidationError{Field: "quantity", Reason: fmt.Sprintf("%v 超过最大下单量 %v", intent.Quantity, v.cfg.MaxQuantity)}
	}

	switch intent.Type {
	case TypeMarket:
	case TypeLimit:
		if intent.Price <= 0 {
			return &ValidationError{Field: "price", Reason: "限价单必须提供正的价格"}
		}
	case TypeStop:
		if intent.StopPrice <= 0 {
			return &ValidationError{Field: "stopPrice", Reason: "止损限价单必须提供正的触发价"}
		}
		if intent.Price <= 0 {
			return &ValidationError{Field: "price", Reason: "止损限价单必须提供正的限价"}
		}
	case TypeStopMarket, TypeTakeProfit:
		if intent.StopPrice <= 0 {
			return &ValidationError{Field: "stopPrice", Reason: "触发类订单必须提供正的触发价"}
		}
		if intent.Type == TypeTakeProfit && intent.Price <= 0 {
			return &ValidationError{Field: "price", Reason: "止盈限价单必须提供正的限价"}
		}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("不支持的订单类型 %q", intent.Type)}
	}

	switch intent.PositionSide {
	case PositionBoth:
		if v.cfg.HedgeMode {
			return &ValidationError{Field: "positionSide", Reason: "双向持仓模式下必须指定 LONG 或 SHORT"}
		}
	case PositionLong, PositionShort:
		if !v.cfg.HedgeMode {
			return &ValidationError{Field: "positionSide", Reason: "单向持仓模式下只允许 BOTH"}
		}
	default:
		return &ValidationError{Field: "positionSide", Reason: fmt.Sprintf("不支持的持仓方向 %q", intent.PositionSide)}
	}

	return nil
}

func (v *Validator) hasKnownQuote(symbol string) bool {
	for _, quote := range v.cfg.QuoteAssets {
		quote = strings.ToUpper(quote)
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return true
		}
	}
	return false
}
