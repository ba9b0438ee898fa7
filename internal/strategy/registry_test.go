package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"futures-strategist/internal/config"
	"futures-strategist/internal/order"
)

// fakeJournal 记录落盘调用，供注册表测试断言。
type fakeJournal struct {
	mu     sync.Mutex
	runs   []string
	orders []string
}

func (j *fakeJournal) RecordRun(id, kind, symbol, state, summary string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, state)
	return nil
}

func (j *fakeJournal) RecordOrder(strategyID string, rec order.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders = append(j.orders, rec.ExchangeOrderID)
	return nil
}

func (j *fakeJournal) orderCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.orders)
}

func (j *fakeJournal) lastRunState() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.runs) == 0 {
		return ""
	}
	return j.runs[len(j.runs)-1]
}

func testRegistry(exec *fakeExec, journal Journal) *Registry {
	twap := testTwapScheduler(exec, config.TwapConfig{SliceRetries: 2})
	return NewRegistry(
		NewOcoCoordinator(exec, testOcoConfig(), nil),
		twap,
		NewGridManager(exec, config.GridConfig{MaxParallel: 4}, nil),
		journal,
		nil,
	)
}

func TestRegistry_TwapLifecycle(t *testing.T) {
	exec := &fakeExec{}
	journal := &fakeJournal{}
	reg := testRegistry(exec, journal)

	handle, err := reg.StartTwap(context.Background(), testTwapParams())
	if err != nil {
		t.Fatalf("StartTwap returned error: %v", err)
	}
	if handle == uuid.Nil {
		t.Fatal("expected a non-nil handle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := reg.Wait(ctx, handle)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if snap.State != RunStateCompleted {
		t.Fatalf("expected COMPLETED, got %s", snap.State)
	}
	if snap.Kind != KindTwap || snap.Symbol != "BTCUSDT" {
		t.Errorf("unexpected snapshot identity: %+v", snap)
	}
	if journal.orderCount() != 10 {
		t.Errorf("expected 10 journaled orders, got %d", journal.orderCount())
	}
	if journal.lastRunState() != string(RunStateCompleted) {
		t.Errorf("journal should record the final state, got %q", journal.lastRunState())
	}
}

func TestRegistry_StartTwapValidatesUpfront(t *testing.T) {
	reg := testRegistry(&fakeExec{}, nil)

	params := testTwapParams()
	params.SliceCount = 0
	handle, err := reg.StartTwap(context.Background(), params)
	if err == nil {
		t.Fatal("expected validation error before any goroutine starts")
	}
	if handle != uuid.Nil {
		t.Fatalf("invalid params must not yield a handle, got %s", handle)
	}
}

func TestRegistry_UnknownHandle(t *testing.T) {
	reg := testRegistry(&fakeExec{}, nil)

	if _, err := reg.Status(uuid.New()); err == nil {
		t.Fatal("expected ErrUnknownHandle")
	}
	if err := reg.Cancel(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected ErrUnknownHandle")
	}
}

func TestRegistry_CancelGridTearsDownLadder(t *testing.T) {
	exec := &fakeExec{priceFn: func(symbol string) (float64, error) { return 50000, nil }}
	reg := testRegistry(exec, nil)

	handle, err := reg.StartGrid(context.Background(), testGridParams())
	if err != nil {
		t.Fatalf("StartGrid returned error: %v", err)
	}

	ctx, cancelWait := context.WithTimeout(context.Background(), time.Second)
	defer cancelWait()
	if _, err := reg.Wait(ctx, handle); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	if err := reg.Cancel(context.Background(), handle); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if got := len(exec.canceledIDs()); got != 10 {
		t.Fatalf("cancel must tear down every grid order, got %d cancels", got)
	}

	// 再次取消：网格已全部终态，不应追加撤销请求。
	if err := reg.Cancel(context.Background(), handle); err != nil {
		t.Fatalf("repeated Cancel returned error: %v", err)
	}
	if got := len(exec.canceledIDs()); got != 10 {
		t.Fatalf("repeated cancel must be a no-op, cancels=%d", got)
	}
}

func TestRegistry_CancelTwapStopsRemainingSlices(t *testing.T) {
	exec := &fakeExec{}
	reg := testRegistry(exec, nil)

	release := make(chan struct{})
	var once sync.Once
	reg.twap.wait = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(release) })
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}

	handle, err := reg.StartTwap(context.Background(), testTwapParams())
	if err != nil {
		t.Fatalf("StartTwap returned error: %v", err)
	}

	<-release // 第一片已挂出，调度器正在片间等待
	if err := reg.Cancel(context.Background(), handle); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	snap, err := reg.Status(handle)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if snap.State != RunStateCanceled {
		t.Fatalf("expected CANCELED, got %s", snap.State)
	}
	if got := len(exec.placedIntents()); got >= 10 {
		t.Fatalf("cancellation must stop remaining slices, placements=%d", got)
	}
}

func TestRegistry_OcoAbortReported(t *testing.T) {
	exec := &fakeExec{}
	exec.placeFn = func(intent order.Intent) (order.Record, error) {
		return order.Record{}, rejection("insufficient margin")
	}
	journal := &fakeJournal{}
	reg := testRegistry(exec, journal)

	handle, err := reg.StartOco(context.Background(), testOcoParams())
	if err != nil {
		t.Fatalf("StartOco returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := reg.Wait(ctx, handle)
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if snap.State != RunStateAborted {
		t.Fatalf("expected ABORTED, got %s", snap.State)
	}
	if journal.lastRunState() != string(RunStateAborted) {
		t.Errorf("journal should record ABORTED, got %q", journal.lastRunState())
	}
}
