package strategy

import (
	"context"

	"futures-strategist/internal/order"
)

// orderExecutor 抽象原语订单执行器，方便在测试中替换交易所交互。
type orderExecutor interface {
	Place(ctx context.Context, intent order.Intent) (order.Record, error)
	Cancel(ctx context.Context, id, symbol string) (order.Status, error)
	Status(ctx context.Context, id, symbol string) (order.Status, float64, error)
	Price(ctx context.Context, symbol string) (float64, error)
}

// Kind 标识策略种类。
type Kind string

const (
	KindOco  Kind = "OCO"
	KindTwap Kind = "TWAP"
	KindGrid Kind = "GRID"
)

// RunState 为注册表视角下的策略运行状态。
type RunState string

const (
	RunStateRunning   RunState = "RUNNING"
	RunStateCompleted RunState = "COMPLETED"
	RunStateAborted   RunState = "ABORTED"
	RunStateDegraded  RunState = "DEGRADED"
	RunStateCanceled  RunState = "CANCELED"
	RunStateFailed    RunState = "FAILED"
)
