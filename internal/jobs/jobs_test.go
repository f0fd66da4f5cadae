package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/registry"
	"execution-core/pkg/exchanges/common"
)

// fakeExec is a scripted Executor. Orders get sequential ids ord-1, ord-2,
// ... in placement order; statuses are controlled per id by the test.
type fakeExec struct {
	mu       sync.Mutex
	placed   []common.OrderRequest
	canceled []string
	statuses map[string]common.OrderStatus
	nextID   int

	placeErr   error // returned by PlaceJobOrder when set
	cancelErr  error // returned by CancelOrder when set
	failFrom   int   // reject placements numbered failFrom..failTo
	failTo     int
	placeCalls int
	mark       float64
}

func newFakeExec() *fakeExec {
	return &fakeExec{statuses: make(map[string]common.OrderStatus), mark: 100}
}

func (f *fakeExec) PlaceJobOrder(_ context.Context, _ string, req common.OrderRequest) (common.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if f.placeErr != nil {
		return common.OrderRecord{}, f.placeErr
	}
	if f.failFrom > 0 && f.placeCalls >= f.failFrom && f.placeCalls <= f.failTo {
		return common.OrderRecord{}, &common.ExchangeError{Code: -1001, Message: "Internal error; unable to process your request."}
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.placed = append(f.placed, req)

	status := common.StatusNew
	if req.Type == common.OrderTypeMarket {
		status = common.StatusFilled
	}
	f.statuses[id] = status
	return common.OrderRecord{
		ExchangeOrderID: id,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Qty:             req.Qty,
		Price:           req.Price,
		ExecutedQty:     req.Qty,
		Status:          status,
	}, nil
}

func (f *fakeExec) CancelOrder(_ context.Context, _, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	f.statuses[orderID] = common.StatusCanceled
	return nil
}

func (f *fakeExec) GetOrderStatus(_ context.Context, _, orderID string) (common.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[orderID]
	if !ok {
		return common.OrderRecord{}, &common.ExchangeError{Code: -2013, Message: "Order does not exist."}
	}
	rec := common.OrderRecord{ExchangeOrderID: orderID, Status: status}
	if status == common.StatusFilled {
		rec.ExecutedQty = 1
	}
	return rec, nil
}

func (f *fakeExec) MarkPrice(_ context.Context, _ string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mark, nil
}

func (f *fakeExec) setStatus(orderID string, status common.OrderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[orderID] = status
}

func (f *fakeExec) placedOrders() []common.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.OrderRequest, len(f.placed))
	copy(out, f.placed)
	return out
}

func (f *fakeExec) placeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placeCalls
}

func (f *fakeExec) canceledOrders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.canceled))
	copy(out, f.canceled)
	return out
}

// waitDone fails the test if the job does not finish in time.
func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not finish in time")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time: %s", msg)
}

func mustGet(t *testing.T, reg *registry.Registry, key registry.Key) registry.Job {
	t.Helper()
	job, err := reg.Get(key)
	if err != nil {
		t.Fatalf("registry Get returned error: %v", err)
	}
	return job
}

func newJobEnv(t *testing.T, kind registry.Kind, name string) (*fakeExec, *registry.Registry, *events.Bus, registry.Key) {
	t.Helper()
	exec := newFakeExec()
	reg := registry.New()
	bus := events.NewBus()
	key := registry.Key{Kind: kind, Name: name}
	if _, err := reg.Create(key, "BTCUSDT", nil); err != nil {
		t.Fatalf("registry Create returned error: %v", err)
	}
	return exec, reg, bus, key
}
