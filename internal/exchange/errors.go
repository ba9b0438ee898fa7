package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// ErrorKind 划分交易所错误类别，决定上层的处理策略。
type ErrorKind string

const (
	// KindRateLimit 表示触发限频，客户端层退避后重试。
	KindRateLimit ErrorKind = "RATE_LIMIT"
	// KindRejected 表示业务拒单（保证金不足、价格过滤等），绝不自动重试。
	KindRejected ErrorKind = "REJECTED"
	// KindNetwork 表示网络或交易所暂时不可用，客户端层退避后重试。
	KindNetwork ErrorKind = "NETWORK"
	// KindAuth 表示鉴权失败，需要人工处理。
	KindAuth ErrorKind = "AUTH"
)

// Error 为归一化后的交易所错误。
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRejected 判断错误是否为业务拒单。
func IsRejected(err error) bool {
	var exErr *Error
	return errors.As(err, &exErr) && exErr.Kind == KindRejected
}

// IsTransient 判断错误是否可在客户端层重试。
func IsTransient(err error) bool {
	var exErr *Error
	if !errors.As(err, &exErr) {
		return false
	}
	return exErr.Kind == KindNetwork || exErr.Kind == KindRateLimit
}

// classify 将 ccxt 错误归一化为带类别的 Error。
func classify(op string, err error) *Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.RateLimitExceededErrType, ccxt.DDoSProtectionErrType:
			return &Error{Kind: KindRateLimit, Op: op, Err: err}
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.OnMaintenanceErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return &Error{Kind: KindNetwork, Op: op, Err: err}
		case ccxt.AuthenticationErrorErrType, ccxt.PermissionDeniedErrType:
			return &Error{Kind: KindAuth, Op: op, Err: err}
		default:
			return &Error{Kind: KindRejected, Op: op, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	return &Error{Kind: KindRejected, Op: op, Err: err}
}
