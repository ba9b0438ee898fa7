package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"futures-strategist/internal/order"
)

// ErrUnknownHandle 表示句柄不存在或已被清理。
var ErrUnknownHandle = errors.New("未知的策略句柄")

// Journal 抽象策略流水的落盘，允许为空实现。
type Journal interface {
	RecordRun(id, kind, symbol, state, summary string) error
	RecordOrder(strategyID string, rec order.Record) error
}

// Snapshot 为一个策略运行的结构化状态，绝不透出原始交易所报文。
type Snapshot struct {
	Handle     uuid.UUID
	Kind       Kind
	Symbol     string
	State      RunState
	Summary    string
	StartedAt  time.Time
	FinishedAt time.Time
}

type run struct {
	mu sync.Mutex

	handle     uuid.UUID
	kind       Kind
	symbol     string
	state      RunState
	summary    string
	startedAt  time.Time
	finishedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// teardown 在外部 Cancel 时执行策略专属的清理动作。
	teardown func(ctx context.Context) error
}

func (r *run) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Handle:     r.handle,
		Kind:       r.kind,
		Symbol:     r.symbol,
		State:      r.state,
		Summary:    r.summary,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
}

func (r *run) finish(state RunState, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RunStateRunning {
		return
	}
	r.state = state
	r.summary = summary
	r.finishedAt = time.Now().UTC()
}

// Registry 管理运行中的策略：启动、取消与状态查询。
// 每个策略在自己的 goroutine 与可取消的 context 中运行，
// 取消只在下一个挂起点生效，绝不打断进行中的网络调用。
type Registry struct {
	oco     *OcoCoordinator
	twap    *TwapScheduler
	grid    *GridManager
	journal Journal
	logger  *zap.Logger

	mu   sync.Mutex
	runs map[uuid.UUID]*run
}

// NewRegistry 创建策略注册表，journal 可以为 nil。
func NewRegistry(oco *OcoCoordinator, twap *TwapScheduler, grid *GridManager, journal Journal, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		oco:     oco,
		twap:    twap,
		grid:    grid,
		journal: journal,
		logger:  logger,
		runs:    make(map[uuid.UUID]*run),
	}
}

// StartOco 下发一组 OCO 并开始监控，立即返回句柄。
func (r *Registry) StartOco(ctx context.Context, params OcoParams) (uuid.UUID, error) {
	runCtx, cancel := context.WithCancel(ctx)
	entry := r.register(KindOco, params.Symbol, cancel)

	go func() {
		defer close(entry.done)

		group, err := r.oco.Place(runCtx, params)
		if group != nil {
			entry.setTeardown(func(tctx context.Context) error {
				return r.oco.CancelGroup(tctx, group)
			})
			r.recordOcoOrders(entry, group)
		}
		if err != nil {
			entry.finish(runStateForGroup(group), fmt.Sprintf("OCO 下发失败: %v", err))
			r.persist(entry)
			return
		}

		monitorErr := r.oco.Monitor(runCtx, group)
		report := group.Report()
		switch {
		case errors.Is(monitorErr, context.Canceled):
			entry.finish(RunStateCanceled, report.Summary())
		case report.State == GroupDegraded:
			entry.finish(RunStateDegraded, report.Summary())
		default:
			entry.finish(RunStateCompleted, report.Summary())
		}
		r.recordOcoOrders(entry, group)
		r.persist(entry)
	}()

	return entry.handle, nil
}

// StartTwap 启动 TWAP 执行，立即返回句柄。
func (r *Registry) StartTwap(ctx context.Context, params TwapParams) (uuid.UUID, error) {
	if err := validateTwapParams(params); err != nil {
		return uuid.Nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	entry := r.register(KindTwap, params.Symbol, cancel)

	go func() {
		defer close(entry.done)

		plan, err := r.twap.Execute(runCtx, params)
		if plan != nil {
			for _, slice := range plan.Slices {
				if slice.Placed() {
					r.recordOrder(entry, slice.Record)
				}
			}
		}

		switch {
		case errors.Is(err, context.Canceled):
			entry.finish(RunStateCanceled, plan.Summary())
		case err != nil:
			entry.finish(RunStateFailed, fmt.Sprintf("TWAP 执行失败: %v", err))
		case plan.Aborted:
			entry.finish(RunStateAborted, plan.Summary())
		default:
			entry.finish(RunStateCompleted, plan.Summary())
		}
		r.persist(entry)
	}()

	return entry.handle, nil
}

// StartGrid 部署一张网格，立即返回句柄；之后 Cancel 该句柄会撤掉整张网格。
func (r *Registry) StartGrid(ctx context.Context, params GridParams) (uuid.UUID, error) {
	if err := validateGridParams(params); err != nil {
		return uuid.Nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	entry := r.register(KindGrid, params.Symbol, cancel)

	go func() {
		defer close(entry.done)

		plan, err := r.grid.Deploy(runCtx, params)
		if plan != nil {
			entry.setTeardown(func(tctx context.Context) error {
				_, cancelErr := r.grid.CancelAll(tctx, plan)
				return cancelErr
			})
			for i := range plan.Levels {
				if plan.Levels[i].Placed() {
					r.recordOrder(entry, *plan.Levels[i].Record)
				}
			}
		}

		switch {
		case errors.Is(err, context.Canceled):
			entry.finish(RunStateCanceled, "网格部署被取消")
		case err != nil:
			entry.finish(RunStateFailed, fmt.Sprintf("网格部署失败: %v", err))
		default:
			entry.finish(RunStateCompleted, plan.Summary())
		}
		r.persist(entry)
	}()

	return entry.handle, nil
}

// Cancel 取消一个运行中的策略：停调度、执行策略专属清理。
// 已完成的策略允许重复取消，仅触发清理（如网格的全量撤单）。
func (r *Registry) Cancel(ctx context.Context, handle uuid.UUID) error {
	entry, err := r.lookup(handle)
	if err != nil {
		return err
	}

	entry.cancel()

	select {
	case <-entry.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if td := entry.getTeardown(); td != nil {
		if err := td(ctx); err != nil {
			r.logger.Warn("策略清理未完全成功",
				zap.String("handle", handle.String()),
				zap.Error(err),
			)
			return err
		}
	}

	r.persist(entry)
	return nil
}

// Status 返回指定策略的结构化快照。
func (r *Registry) Status(handle uuid.UUID) (Snapshot, error) {
	entry, err := r.lookup(handle)
	if err != nil {
		return Snapshot{}, err
	}
	return entry.snapshot(), nil
}

// Wait 阻塞等待指定策略运行结束。
func (r *Registry) Wait(ctx context.Context, handle uuid.UUID) (Snapshot, error) {
	entry, err := r.lookup(handle)
	if err != nil {
		return Snapshot{}, err
	}

	select {
	case <-entry.done:
		return entry.snapshot(), nil
	case <-ctx.Done():
		return entry.snapshot(), ctx.Err()
	}
}

func (r *Registry) register(kind Kind, symbol string, cancel context.CancelFunc) *run {
	entry := &run{
		handle:    uuid.New(),
		kind:      kind,
		symbol:    symbol,
		state:     RunStateRunning,
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.runs[entry.handle] = entry
	r.mu.Unlock()

	r.logger.Info("策略已启动",
		zap.String("handle", entry.handle.String()),
		zap.String("kind", string(kind)),
		zap.String("symbol", symbol),
	)
	return entry
}

func (r *Registry) lookup(handle uuid.UUID) (*run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	return entry, nil
}

func (r *run) setTeardown(td func(ctx context.Context) error) {
	r.mu.Lock()
	r.teardown = td
	r.mu.Unlock()
}

func (r *run) getTeardown() func(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardown
}

func (r *Registry) persist(entry *run) {
	if r.journal == nil {
		return
	}
	snap := entry.snapshot()
	if err := r.journal.RecordRun(snap.Handle.String(), string(snap.Kind), snap.Symbol, string(snap.State), snap.Summary); err != nil {
		r.logger.Warn("策略流水落盘失败", zap.Error(err))
	}
}

func (r *Registry) recordOrder(entry *run, rec order.Record) {
	if r.journal == nil || rec.ExchangeOrderID == "" {
		return
	}
	if err := r.journal.RecordOrder(entry.handle.String(), rec); err != nil {
		r.logger.Warn("订单流水落盘失败", zap.Error(err))
	}
}

func (r *Registry) recordOcoOrders(entry *run, group *OcoGroup) {
	report := group.Report()
	r.recordOrder(entry, report.TakeProfit)
	r.recordOrder(entry, report.StopLoss)
}

func runStateForGroup(group *OcoGroup) RunState {
	if group == nil {
		return RunStateFailed
	}
	switch group.State() {
	case GroupDegraded:
		return RunStateDegraded
	case GroupAborted:
		return RunStateAborted
	default:
		return RunStateFailed
	}
}
