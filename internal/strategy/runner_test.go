package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/registry"
	"execution-core/pkg/exchanges/common"
)

// fakeStratExec tracks a simulated position: market buys add to it, sells
// subtract, so flatten orders actually flatten.
type fakeStratExec struct {
	mu       sync.Mutex
	klines   []common.Kline
	position float64
	orders   []common.OrderRequest
	placeErr error
}

func (f *fakeStratExec) PlaceJobOrder(_ context.Context, _ string, req common.OrderRequest) (common.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return common.OrderRecord{}, f.placeErr
	}
	f.orders = append(f.orders, req)
	if req.Side == common.SideBuy {
		f.position += req.Qty
	} else {
		f.position -= req.Qty
	}
	return common.OrderRecord{ExchangeOrderID: "ord", Status: common.StatusFilled, Qty: req.Qty}, nil
}

func (f *fakeStratExec) Position(_ context.Context, symbol string) (common.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return common.Position{Symbol: symbol, Amount: f.position}, nil
}

func (f *fakeStratExec) Klines(_ context.Context, _, _ string, _ int) ([]common.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.klines, nil
}

func (f *fakeStratExec) placedOrders() []common.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.OrderRequest, len(f.orders))
	copy(out, f.orders)
	return out
}

func (f *fakeStratExec) currentPosition() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

type fakeFeed struct {
	ch chan common.PriceTick
}

func (f *fakeFeed) Subscribe(context.Context, string) (<-chan common.PriceTick, func()) {
	return f.ch, func() {}
}

func (f *fakeFeed) push(price float64) {
	f.ch <- common.PriceTick{Symbol: "BTCUSDT", Price: price, Time: time.Now()}
}

func flatKlines(n int, close float64) []common.Kline {
	out := make([]common.Kline, n)
	for i := range out {
		out[i] = common.Kline{Close: close}
	}
	return out
}

func runnerTestConfig() Config {
	return Config{
		Name: "ema-test", Symbol: "BTCUSDT", Qty: 0.5,
		FastPeriod: 2, SlowPeriod: 3, WarmupInterval: "1m",
	}
}

func newRunnerEnv(t *testing.T) (*fakeStratExec, *fakeFeed, *registry.Registry, *Runner, registry.Key) {
	t.Helper()
	exec := &fakeStratExec{klines: flatKlines(5, 100)}
	feed := &fakeFeed{ch: make(chan common.PriceTick, 16)}
	reg := registry.New()
	bus := events.NewBus()
	key := registry.Key{Kind: registry.KindStrategy, Name: "ema-test"}
	if _, err := reg.Create(key, "BTCUSDT", nil); err != nil {
		t.Fatalf("registry Create returned error: %v", err)
	}
	r := NewRunner(exec, feed, reg, bus, key, runnerTestConfig())
	return exec, feed, reg, r, key
}

func waitRunnerDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("runner did not finish in time")
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time: %s", msg)
}

func TestRunnerGoldenCrossOpensLong(t *testing.T) {
	exec, feed, reg, r, key := newRunnerEnv(t)
	r.Start(context.Background())

	waitFor(t, func() bool {
		job, _ := reg.Get(key)
		return job.Status == registry.StatusRunning
	}, "runner running")

	// Rally: the fast average overtakes the slow one.
	for _, price := range []float64{105, 110, 115, 120} {
		feed.push(price)
	}
	waitFor(t, func() bool { return len(exec.placedOrders()) == 1 }, "entry placed")

	entry := exec.placedOrders()[0]
	if entry.Side != common.SideBuy || entry.Type != common.OrderTypeMarket || entry.Qty != 0.5 {
		t.Fatalf("entry=%+v, expected market BUY 0.5", entry)
	}
	if entry.ReduceOnly {
		t.Fatalf("entry must not be reduce-only")
	}

	r.Stop()
	waitRunnerDone(t, r)
}

func TestRunnerDeathCrossFlipsShort(t *testing.T) {
	exec, feed, _, r, _ := newRunnerEnv(t)
	r.Start(context.Background())

	for _, price := range []float64{105, 110, 115, 120} {
		feed.push(price)
	}
	waitFor(t, func() bool { return len(exec.placedOrders()) == 1 }, "long entry placed")

	// Sell-off: fast drops back under slow.
	for _, price := range []float64{90, 80, 70, 60} {
		feed.push(price)
	}
	waitFor(t, func() bool { return len(exec.placedOrders()) == 3 }, "flip executed")

	orders := exec.placedOrders()
	flattenOrder, short := orders[1], orders[2]
	if !flattenOrder.ReduceOnly || flattenOrder.Side != common.SideSell || flattenOrder.Qty != 0.5 {
		t.Fatalf("flatten=%+v, expected reduce-only SELL 0.5", flattenOrder)
	}
	if short.ReduceOnly || short.Side != common.SideSell || short.Qty != 0.5 {
		t.Fatalf("short entry=%+v, expected plain SELL 0.5", short)
	}
	if got := exec.currentPosition(); got != -0.5 {
		t.Fatalf("position=%v, expected -0.5", got)
	}

	r.Stop()
	waitRunnerDone(t, r)
}

func TestRunnerRecordsEveryEvaluation(t *testing.T) {
	exec, feed, reg, r, key := newRunnerEnv(t)
	r.Start(context.Background())

	waitFor(t, func() bool {
		job, _ := reg.Get(key)
		return job.Status == registry.StatusRunning
	}, "runner running")
	before, _ := reg.Get(key)

	// Flat prices never cross, but the record must still show the runner
	// is alive and evaluating.
	for i := 0; i < 5; i++ {
		feed.push(100)
	}
	waitFor(t, func() bool {
		job, _ := reg.Get(key)
		return job.LastAction != before.LastAction && !job.UpdatedAt.Before(before.UpdatedAt)
	}, "evaluation recorded")

	if got := len(exec.placedOrders()); got != 0 {
		t.Fatalf("placed %d orders on flat prices, expected 0", got)
	}

	r.Stop()
	waitRunnerDone(t, r)
}

func TestRunnerStopFlattensExactlyOnce(t *testing.T) {
	exec, feed, reg, r, key := newRunnerEnv(t)
	r.Start(context.Background())

	for _, price := range []float64{105, 110, 115, 120} {
		feed.push(price)
	}
	waitFor(t, func() bool { return len(exec.placedOrders()) == 1 }, "entry placed")

	r.Stop()
	r.Stop() // idempotent
	waitRunnerDone(t, r)

	orders := exec.placedOrders()
	reduceOnly := 0
	for _, o := range orders {
		if o.ReduceOnly {
			reduceOnly++
		}
	}
	if reduceOnly != 1 {
		t.Fatalf("reduce-only orders=%d, expected exactly 1", reduceOnly)
	}
	if got := exec.currentPosition(); got != 0 {
		t.Fatalf("position=%v after stop, expected flat", got)
	}

	job, _ := reg.Get(key)
	if job.Status != registry.StatusStopped {
		t.Fatalf("Status=%s, expected %s", job.Status, registry.StatusStopped)
	}
}

func TestRunnerStopWhenFlatSkipsFlatten(t *testing.T) {
	exec, _, reg, r, key := newRunnerEnv(t)
	r.Start(context.Background())

	waitFor(t, func() bool {
		job, _ := reg.Get(key)
		return job.Status == registry.StatusRunning
	}, "runner running")

	r.Stop()
	waitRunnerDone(t, r)

	if got := len(exec.placedOrders()); got != 0 {
		t.Fatalf("placed %d orders, expected 0", got)
	}
	job, _ := reg.Get(key)
	if job.Status != registry.StatusStopped {
		t.Fatalf("Status=%s, expected %s", job.Status, registry.StatusStopped)
	}
}

func TestRunnerFailsWithoutWarmupHistory(t *testing.T) {
	exec := &fakeStratExec{klines: flatKlines(1, 100)} // below the slow period
	feed := &fakeFeed{ch: make(chan common.PriceTick, 1)}
	reg := registry.New()
	bus := events.NewBus()
	key := registry.Key{Kind: registry.KindStrategy, Name: "short-history"}
	reg.Create(key, "BTCUSDT", nil)

	r := NewRunner(exec, feed, reg, bus, key, runnerTestConfig())
	r.Start(context.Background())
	waitRunnerDone(t, r)

	job, _ := reg.Get(key)
	if job.Status != registry.StatusFailed {
		t.Fatalf("Status=%s, expected %s", job.Status, registry.StatusFailed)
	}
}
