package order

import (
	"errors"
	"testing"

	"futures-strategist/internal/config"
)

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		QuoteAssets: []string{"USDT", "USDC"},
		MinQuantity: 0.0001,
		MaxQuantity: 100,
		HedgeMode:   false,
	}
}

func TestValidate_AcceptsWellFormedIntents(t *testing.T) {
	v := NewValidator(testTradingConfig())

	intents := []Intent{
		MarketIntent("BTCUSDT", SideBuy, 0.001),
		LimitIntent("ETHUSDT", SideSell, 0.5, 3000),
		StopLimitIntent("BTCUSDT", SideSell, 0.001, 48000, 47900),
	}

	for _, intent := range intents {
		if err := v.Validate(intent); err != nil {
			t.Errorf("Validate(%s %s) returned error: %v", intent.Type, intent.Symbol, err)
		}
	}
}

func TestValidate_NamesOffendingField(t *testing.T) {
	v := NewValidator(testTradingConfig())

	cases := []struct {
		name   string
		intent Intent
		field  string
	}{
		{"bad symbol", MarketIntent("btc-usdt!", SideBuy, 0.001), "symbol"},
		{"unknown quote", MarketIntent("BTCEUR", SideBuy, 0.001), "symbol"},
		{"bad side", Intent{Symbol: "BTCUSDT", Side: "HOLD", Quantity: 0.001, Type: TypeMarket, PositionSide: PositionBoth}, "side"},
		{"zero quantity", MarketIntent("BTCUSDT", SideBuy, 0), "quantity"},
		{"too small", MarketIntent("BTCUSDT", SideBuy, 0.00001), "quantity"},
		{"too large", MarketIntent("BTCUSDT", SideBuy, 500), "quantity"},
		{"limit without price", Intent{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.001, Type: TypeLimit, PositionSide: PositionBoth}, "price"},
		{"stop without trigger", Intent{Symbol: "BTCUSDT", Side: SideSell, Quantity: 0.001, Type: TypeStop, Price: 47900, PositionSide: PositionBoth}, "stopPrice"},
		{"hedge side without hedge mode", Intent{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.001, Type: TypeMarket, PositionSide: PositionLong}, "positionSide"},
		{"unknown type", Intent{Symbol: "BTCUSDT", Side: SideBuy, Quantity: 0.001, Type: "ICEBERG", PositionSide: PositionBoth}, "type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.intent)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if vErr.Field != tc.field {
				t.Errorf("offending field mismatch: got %q want %q", vErr.Field, tc.field)
			}
		})
	}
}

func TestValidate_HedgeModeRequiresExplicitSide(t *testing.T) {
	cfg := testTradingConfig()
	cfg.HedgeMode = true
	v := NewValidator(cfg)

	intent := MarketIntent("BTCUSDT", SideBuy, 0.001)
	err := v.Validate(intent)
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "positionSide" {
		t.Fatalf("expected positionSide validation error, got %v", err)
	}

	intent.PositionSide = PositionLong
	if err := v.Validate(intent); err != nil {
		t.Fatalf("LONG should be valid in hedge mode, got %v", err)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatalf("Opposite mapping broken")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusFilled, StatusCanceled, StatusRejected, StatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusNew, StatusPartiallyFilled} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
