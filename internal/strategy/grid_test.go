package strategy

import (
	"context"
	"errors"
	"testing"

	"futures-strategist/internal/config"
	"futures-strategist/internal/order"
)

func testGridParams() GridParams {
	return GridParams{
		Symbol:           "BTCUSDT",
		LowerPrice:       48000,
		UpperPrice:       52000,
		LevelCount:       10,
		QuantityPerLevel: 0.001,
	}
}

func TestGridPrices_InclusiveMonotonic(t *testing.T) {
	prices := gridPrices(48000, 52000, 10)

	if len(prices) != 10 {
		t.Fatalf("expected 10 prices, got %d", len(prices))
	}
	if prices[0] != 48000 || prices[9] != 52000 {
		t.Fatalf("endpoints must be exact: got [%v, %v]", prices[0], prices[9])
	}
	for i := 1; i < len(prices); i++ {
		if prices[i] <= prices[i-1] {
			t.Fatalf("prices must be strictly increasing: prices[%d]=%v prices[%d]=%v",
				i-1, prices[i-1], i, prices[i])
		}
	}
}

func TestGridDeploy_SplitsAroundMarketPrice(t *testing.T) {
	exec := &fakeExec{priceFn: func(symbol string) (float64, error) { return 50000, nil }}
	mgr := NewGridManager(exec, config.GridConfig{MaxParallel: 4}, nil)

	plan, err := mgr.Deploy(context.Background(), testGridParams())
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}

	buys, sells := 0, 0
	for i := range plan.Levels {
		level := &plan.Levels[i]
		if !level.Placed() {
			t.Fatalf("level %d not placed: %+v", level.Index, level)
		}
		switch level.Side {
		case order.SideBuy:
			buys++
			if level.Price >= 50000 {
				t.Errorf("buy level %d priced at %v above market", level.Index, level.Price)
			}
		case order.SideSell:
			sells++
			if level.Price <= 50000 {
				t.Errorf("sell level %d priced at %v below market", level.Index, level.Price)
			}
		}
	}
	if buys != 5 || sells != 5 {
		t.Fatalf("expected 5 buys and 5 sells, got buys=%d sells=%d", buys, sells)
	}

	for _, intent := range exec.placedIntents() {
		if intent.Type != order.TypeLimit {
			t.Errorf("grid orders must be limit orders, got %s", intent.Type)
		}
		if intent.Quantity != 0.001 {
			t.Errorf("expected quantity 0.001 per level, got %v", intent.Quantity)
		}
	}
}

func TestGridDeploy_LevelAtMarketPriceSkipped(t *testing.T) {
	exec := &fakeExec{priceFn: func(symbol string) (float64, error) { return 50000, nil }}
	mgr := NewGridManager(exec, config.GridConfig{MaxParallel: 2}, nil)

	params := testGridParams()
	params.LevelCount = 5 // 价位落在 48000,49000,50000,51000,52000

	plan, err := mgr.Deploy(context.Background(), params)
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}

	skipped := 0
	for i := range plan.Levels {
		if plan.Levels[i].Skipped {
			skipped++
			if plan.Levels[i].Price != 50000 {
				t.Errorf("only the at-market level should be skipped, got price %v", plan.Levels[i].Price)
			}
		}
	}
	if skipped != 1 {
		t.Fatalf("expected exactly 1 skipped level, got %d", skipped)
	}
	if got := len(exec.placedIntents()); got != 4 {
		t.Fatalf("expected 4 placements, got %d", got)
	}
}

func TestGridDeploy_LevelFailuresIndependent(t *testing.T) {
	exec := &fakeExec{priceFn: func(symbol string) (float64, error) { return 50000, nil }}
	exec.placeFn = func(intent order.Intent) (order.Record, error) {
		if intent.Price == 48000 {
			return order.Record{}, rejection("price filter")
		}
		return order.Record{ExchangeOrderID: "ok", Intent: intent, Status: order.StatusNew}, nil
	}
	mgr := NewGridManager(exec, config.GridConfig{MaxParallel: 4}, nil)

	plan, err := mgr.Deploy(context.Background(), testGridParams())
	if err != nil {
		t.Fatalf("level failures must not fail the deploy: %v", err)
	}

	placed, failed := 0, 0
	for i := range plan.Levels {
		level := &plan.Levels[i]
		switch {
		case level.Placed():
			placed++
		case level.Err != "":
			failed++
		}
	}
	if placed != 9 || failed != 1 {
		t.Fatalf("expected 9 placed and 1 failed, got placed=%d failed=%d", placed, failed)
	}
}

func TestGridDeploy_PriceFetchFailureIsFatal(t *testing.T) {
	exec := &fakeExec{priceFn: func(symbol string) (float64, error) {
		return 0, transient("ticker unavailable")
	}}
	mgr := NewGridManager(exec, config.GridConfig{}, nil)

	if _, err := mgr.Deploy(context.Background(), testGridParams()); err == nil {
		t.Fatal("expected error when market price is unavailable")
	}
	if got := len(exec.placedIntents()); got != 0 {
		t.Fatalf("no orders may be placed without a market price, got %d", got)
	}
}

func TestGridCancelAll_Idempotent(t *testing.T) {
	exec := &fakeExec{priceFn: func(symbol string) (float64, error) { return 50000, nil }}
	mgr := NewGridManager(exec, config.GridConfig{MaxParallel: 4}, nil)

	plan, err := mgr.Deploy(context.Background(), testGridParams())
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}

	outcomes, err := mgr.CancelAll(context.Background(), plan)
	if err != nil {
		t.Fatalf("first CancelAll returned error: %v", err)
	}
	if len(outcomes) != 10 {
		t.Fatalf("expected 10 cancel outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.AlreadyTerminal || o.Status != order.StatusCanceled {
			t.Errorf("level %d: unexpected outcome %+v", o.Index, o)
		}
	}
	firstCancelCount := len(exec.canceledIDs())

	outcomes, err = mgr.CancelAll(context.Background(), plan)
	if err != nil {
		t.Fatalf("repeated CancelAll returned error: %v", err)
	}
	for _, o := range outcomes {
		if !o.AlreadyTerminal {
			t.Errorf("level %d should already be terminal on second pass", o.Index)
		}
	}
	if got := len(exec.canceledIDs()); got != firstCancelCount {
		t.Fatalf("repeated CancelAll must not re-cancel, cancels went %d -> %d", firstCancelCount, got)
	}
}

func TestGridCancelAll_CollectsFailures(t *testing.T) {
	exec := &fakeExec{priceFn: func(symbol string) (float64, error) { return 50000, nil }}
	mgr := NewGridManager(exec, config.GridConfig{MaxParallel: 4}, nil)

	plan, err := mgr.Deploy(context.Background(), testGridParams())
	if err != nil {
		t.Fatalf("Deploy returned error: %v", err)
	}

	failID := plan.Levels[0].Record.ExchangeOrderID
	exec.cancelFn = func(id, symbol string) (order.Status, error) {
		if id == failID {
			return "", transient("timeout")
		}
		return order.StatusCanceled, nil
	}

	outcomes, err := mgr.CancelAll(context.Background(), plan)
	if err == nil {
		t.Fatal("expected aggregated cancel error")
	}
	if len(outcomes) != 10 {
		t.Fatalf("all levels must be attempted despite failures, got %d outcomes", len(outcomes))
	}
	failures := 0
	for _, o := range outcomes {
		if o.Err != "" {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly 1 failed cancel, got %d", failures)
	}
}

func TestGridDeploy_RejectsInvalidParams(t *testing.T) {
	mgr := NewGridManager(&fakeExec{}, config.GridConfig{}, nil)

	cases := []struct {
		name   string
		mutate func(*GridParams)
	}{
		{"区间倒置", func(p *GridParams) { p.UpperPrice = p.LowerPrice - 1 }},
		{"价位过少", func(p *GridParams) { p.LevelCount = 1 }},
		{"零数量", func(p *GridParams) { p.QuantityPerLevel = 0 }},
		{"非正下界", func(p *GridParams) { p.LowerPrice = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := testGridParams()
			tc.mutate(&params)
			_, err := mgr.Deploy(context.Background(), params)
			var verr *order.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
