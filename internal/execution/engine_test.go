package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/rules"
	"execution-core/internal/validator"
	"execution-core/pkg/exchanges/common"
)

// fakeGateway is a scripted common.Gateway.
type fakeGateway struct {
	mu       sync.Mutex
	placed   []common.OrderRequest
	canceled []string

	rules     common.SymbolRules
	mark      float64
	placeErr  error
	cancelErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		rules: common.SymbolRules{Symbol: "BTCUSDT", TickSize: 0.1, StepSize: 0.001, MinNotional: 20},
		mark:  50000,
	}
}

func (g *fakeGateway) GetSymbolRules(_ context.Context, _ string) (common.SymbolRules, error) {
	return g.rules, nil
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req common.OrderRequest) (common.OrderRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return common.OrderRecord{}, g.placeErr
	}
	g.placed = append(g.placed, req)
	return common.OrderRecord{
		ExchangeOrderID: "1001",
		ClientOrderID:   req.ClientID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          common.StatusNew,
		Price:           req.Price,
		Qty:             req.Qty,
	}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, orderID)
	return nil
}

func (g *fakeGateway) GetOrderStatus(_ context.Context, _, orderID string) (common.OrderRecord, error) {
	return common.OrderRecord{ExchangeOrderID: orderID, Status: common.StatusNew}, nil
}

func (g *fakeGateway) GetOpenOrders(_ context.Context, _ string) ([]common.OrderRecord, error) {
	return nil, nil
}

func (g *fakeGateway) GetPosition(_ context.Context, symbol string) (common.Position, error) {
	return common.Position{Symbol: symbol}, nil
}

func (g *fakeGateway) GetMarkPrice(_ context.Context, _ string) (float64, error) {
	return g.mark, nil
}

func (g *fakeGateway) GetKlines(_ context.Context, _, _ string, _ int) ([]common.Kline, error) {
	return nil, nil
}

func newTestEngine(gw *fakeGateway) *Engine {
	cache := rules.NewCache(gw, time.Hour)
	return New(gw, cache, events.NewBus(), nil)
}

func TestPlaceOrderNormalizesBeforeSubmission(t *testing.T) {
	gw := newFakeGateway()
	eng := newTestEngine(gw)

	_, err := eng.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeLimit,
		Qty:    0.0019,
		Price:  50000.17,
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	if len(gw.placed) != 1 {
		t.Fatalf("gateway got %d orders, expected 1", len(gw.placed))
	}
	sent := gw.placed[0]
	if sent.Qty != 0.001 {
		t.Fatalf("Qty=%v, expected 0.001 (rounded to step)", sent.Qty)
	}
	if sent.Price != 50000.1 {
		t.Fatalf("Price=%v, expected 50000.1 (snapped to tick)", sent.Price)
	}
	if sent.ClientID == "" {
		t.Fatalf("expected a generated client order id")
	}
}

func TestPlaceOrderRejectsInvalidBeforeNetwork(t *testing.T) {
	gw := newFakeGateway()
	eng := newTestEngine(gw)

	_, err := eng.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeLimit,
		Qty:    0.001,
		Price:  100, // notional 0.1, far below minimum
	})
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}
	if _, ok := err.(*validator.ValidationError); !ok {
		t.Fatalf("expected *validator.ValidationError, got %T", err)
	}
	if len(gw.placed) != 0 {
		t.Fatalf("invalid order reached the gateway")
	}
}

func TestPlaceOrderChecksMarketNotionalAgainstMark(t *testing.T) {
	gw := newFakeGateway()
	gw.mark = 50000
	eng := newTestEngine(gw)

	// 0.0001 BTC * 50000 = 5 USD, below the 20 USD minimum. The step size
	// would keep 0.0001 alive, so only the mark-price check can catch it.
	gw.rules.StepSize = 0.0001
	_, err := eng.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeMarket,
		Qty:    0.0001,
	})
	if err == nil {
		t.Fatalf("expected notional rejection, got nil")
	}
	if len(gw.placed) != 0 {
		t.Fatalf("undersized market order reached the gateway")
	}
}

func TestPlaceOrderSurfacesExchangeErrorVerbatim(t *testing.T) {
	gw := newFakeGateway()
	gw.placeErr = &common.ExchangeError{Code: -2019, Message: "Margin is insufficient."}
	eng := newTestEngine(gw)

	_, err := eng.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeLimit,
		Qty:    0.001,
		Price:  50000,
	})
	ee, ok := common.AsExchangeError(err)
	if !ok {
		t.Fatalf("expected *common.ExchangeError, got %v", err)
	}
	if ee.Code != -2019 || ee.Message != "Margin is insufficient." {
		t.Fatalf("exchange error mangled: %+v", ee)
	}
}

func TestCancelOrderTreatsGoneAsSuccess(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"clean cancel", nil, false},
		{"unknown order", &common.ExchangeError{Code: -2011, Message: "Unknown order sent."}, false},
		{"order does not exist", &common.ExchangeError{Code: -2013, Message: "Order does not exist."}, false},
		{"real failure", &common.ExchangeError{Code: -1021, Message: "Timestamp outside recvWindow."}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.cancelErr = tt.err
			eng := newTestEngine(gw)

			err := eng.CancelOrder(context.Background(), "BTCUSDT", "1001")
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
		})
	}
}

func TestPlaceOrderPublishesEvents(t *testing.T) {
	gw := newFakeGateway()
	bus := events.NewBus()
	eng := New(gw, rules.NewCache(gw, time.Hour), bus, nil)

	submitted, unsub := bus.Subscribe(events.EventOrderSubmitted, 8)
	defer unsub()

	_, err := eng.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT",
		Side:   common.SideBuy,
		Type:   common.OrderTypeLimit,
		Qty:    0.001,
		Price:  50000,
	})
	if err != nil {
		t.Fatalf("PlaceOrder returned error: %v", err)
	}

	select {
	case payload := <-submitted:
		rec, ok := payload.(common.OrderRecord)
		if !ok || rec.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected payload %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("no order.submitted event")
	}
}
