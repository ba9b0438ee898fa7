package exchange

import (
	"errors"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

func TestClassify_KindMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rate limit", &ccxt.Error{Type: ccxt.RateLimitExceededErrType, Message: "429"}, KindRateLimit},
		{"ddos", &ccxt.Error{Type: ccxt.DDoSProtectionErrType, Message: "418"}, KindRateLimit},
		{"network", &ccxt.Error{Type: ccxt.NetworkErrorErrType, Message: "conn reset"}, KindNetwork},
		{"timeout", &ccxt.Error{Type: ccxt.RequestTimeoutErrType, Message: "timeout"}, KindNetwork},
		{"maintenance", &ccxt.Error{Type: ccxt.OnMaintenanceErrType, Message: "maintenance"}, KindNetwork},
		{"auth", &ccxt.Error{Type: ccxt.AuthenticationErrorErrType, Message: "bad key"}, KindAuth},
		{"insufficient funds", &ccxt.Error{Type: ccxt.InsufficientFundsErrType, Message: "margin"}, KindRejected},
		{"invalid order", &ccxt.Error{Type: ccxt.InvalidOrderErrType, Message: "price filter"}, KindRejected},
		{"unknown", errors.New("boom"), KindRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("test_op", tc.err)
			if got.Kind != tc.want {
				t.Fatalf("classify kind mismatch: got %s want %s", got.Kind, tc.want)
			}
			if !errors.Is(got, tc.err) && got.Err != tc.err {
				t.Fatalf("classify should wrap the original error")
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&Error{Kind: KindNetwork, Op: "x"}) {
		t.Errorf("network errors should be transient")
	}
	if !IsTransient(&Error{Kind: KindRateLimit, Op: "x"}) {
		t.Errorf("rate limit errors should be transient")
	}
	if IsTransient(&Error{Kind: KindRejected, Op: "x"}) {
		t.Errorf("rejections must never be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Errorf("plain errors are not transient")
	}
}

func TestIsRejected(t *testing.T) {
	if !IsRejected(&Error{Kind: KindRejected, Op: "x"}) {
		t.Errorf("expected rejection to be detected")
	}
	if IsRejected(&Error{Kind: KindAuth, Op: "x"}) {
		t.Errorf("auth errors are not rejections")
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"open":      "NEW",
		"closed":    "FILLED",
		"canceled":  "CANCELED",
		"cancelled": "CANCELED",
		"rejected":  "REJECTED",
		"expired":   "EXPIRED",
		"":          "NEW",
	}
	for in, want := range cases {
		if got := normalizeStatus(in); got != want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranslateRequest(t *testing.T) {
	orderType, price, params, err := translateRequest(OrderRequest{
		Type:        "STOP",
		Price:       47900,
		StopPrice:   48000,
		TimeInForce: "GTC",
		ReduceOnly:  true,
	})
	if err != nil {
		t.Fatalf("translateRequest returned error: %v", err)
	}
	if orderType != "limit" || price != 47900 {
		t.Fatalf("stop-limit should map to ccxt limit at the limit price, got %s @ %v", orderType, price)
	}
	if params["stopPrice"] != float64(48000) {
		t.Errorf("expected stopPrice param, got %v", params)
	}
	if params["reduceOnly"] != true {
		t.Errorf("expected reduceOnly param, got %v", params)
	}

	orderType, price, params, err = translateRequest(OrderRequest{Type: "STOP_MARKET", StopPrice: 48000, TimeInForce: "GTC"})
	if err != nil {
		t.Fatalf("translateRequest returned error: %v", err)
	}
	if orderType != "market" || price != 0 {
		t.Fatalf("stop-market should map to ccxt market without price, got %s @ %v", orderType, price)
	}
	if _, ok := params["timeInForce"]; ok {
		t.Errorf("market orders must not carry timeInForce, got %v", params)
	}

	if _, _, _, err := translateRequest(OrderRequest{Type: "ICEBERG"}); err == nil {
		t.Fatalf("expected error for unsupported order type")
	}
}
