package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"execution-core/internal/events"
	"execution-core/pkg/exchanges/common"
)

// fakeStreamer hands out scripted tick channels and counts connections.
type fakeStreamer struct {
	mu       sync.Mutex
	channels []chan common.PriceTick
	connects int
	stops    int
	dialErr  error
}

func (f *fakeStreamer) SubscribeMarkPrice(_ context.Context, symbol string) (<-chan common.PriceTick, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, nil, f.dialErr
	}
	f.connects++
	ch := make(chan common.PriceTick, 16)
	f.channels = append(f.channels, ch)
	stop := func() {
		f.mu.Lock()
		f.stops++
		f.mu.Unlock()
	}
	return ch, stop, nil
}

func (f *fakeStreamer) push(tick common.PriceTick) {
	f.mu.Lock()
	ch := f.channels[len(f.channels)-1]
	f.mu.Unlock()
	ch <- tick
}

func (f *fakeStreamer) closeCurrent() {
	f.mu.Lock()
	ch := f.channels[len(f.channels)-1]
	f.mu.Unlock()
	close(ch)
}

func (f *fakeStreamer) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func tick(price float64) common.PriceTick {
	return common.PriceTick{Symbol: "BTCUSDT", Price: price, Time: time.Now()}
}

func recv(t *testing.T, ch <-chan common.PriceTick) common.PriceTick {
	t.Helper()
	select {
	case tk := <-ch:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatalf("no tick received in time")
		return common.PriceTick{}
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

func TestHubFansOutToAllSubscribers(t *testing.T) {
	streamer := &fakeStreamer{}
	h := New(context.Background(), streamer, nil)

	a, unsubA := h.Subscribe(context.Background(), "BTCUSDT")
	defer unsubA()
	b, unsubB := h.Subscribe(context.Background(), "BTCUSDT")
	defer unsubB()

	waitFor(t, func() bool { return streamer.connectCount() == 1 }, "single upstream connected")
	streamer.push(tick(50000))

	if got := recv(t, a).Price; got != 50000 {
		t.Fatalf("subscriber a price=%v, expected 50000", got)
	}
	if got := recv(t, b).Price; got != 50000 {
		t.Fatalf("subscriber b price=%v, expected 50000", got)
	}
	if streamer.connectCount() != 1 {
		t.Fatalf("connects=%d, expected one shared upstream", streamer.connectCount())
	}
}

func TestHubReconnectsWhenStreamEnds(t *testing.T) {
	streamer := &fakeStreamer{}
	h := New(context.Background(), streamer, nil)

	ch, unsub := h.Subscribe(context.Background(), "BTCUSDT")
	defer unsub()

	waitFor(t, func() bool { return streamer.connectCount() == 1 }, "initial connect")
	streamer.push(tick(100))
	recv(t, ch)

	streamer.closeCurrent()
	waitFor(t, func() bool { return streamer.connectCount() == 2 }, "reconnect after stream end")

	streamer.push(tick(200))
	if got := recv(t, ch).Price; got != 200 {
		t.Fatalf("price after reconnect=%v, expected 200", got)
	}
}

func TestHubStopsUpstreamWithLastSubscriber(t *testing.T) {
	streamer := &fakeStreamer{}
	h := New(context.Background(), streamer, nil)

	_, unsubA := h.Subscribe(context.Background(), "BTCUSDT")
	_, unsubB := h.Subscribe(context.Background(), "BTCUSDT")
	waitFor(t, func() bool { return streamer.connectCount() == 1 }, "upstream connected")

	unsubA()
	if streamer.connectCount() != 1 {
		t.Fatalf("upstream dropped while a subscriber remains")
	}
	unsubB()

	// The pump notices the canceled feed context and does not reconnect.
	streamer.closeCurrent()
	time.Sleep(20 * time.Millisecond)
	if streamer.connectCount() != 1 {
		t.Fatalf("connects=%d, expected no reconnect after last unsubscribe", streamer.connectCount())
	}

	// A fresh subscriber starts a fresh upstream.
	_, unsubC := h.Subscribe(context.Background(), "BTCUSDT")
	defer unsubC()
	waitFor(t, func() bool { return streamer.connectCount() == 2 }, "new upstream for new subscriber")
}

func TestHubLastPrice(t *testing.T) {
	streamer := &fakeStreamer{}
	h := New(context.Background(), streamer, nil)

	if _, ok := h.LastPrice("BTCUSDT"); ok {
		t.Fatalf("LastPrice reported data before any tick")
	}

	ch, unsub := h.Subscribe(context.Background(), "BTCUSDT")
	defer unsub()
	waitFor(t, func() bool { return streamer.connectCount() == 1 }, "upstream connected")

	streamer.push(tick(42000))
	recv(t, ch)

	last, ok := h.LastPrice("BTCUSDT")
	if !ok || last.Price != 42000 {
		t.Fatalf("LastPrice=%v ok=%v, expected 42000", last.Price, ok)
	}
}

func TestHubPublishesTicksOnBus(t *testing.T) {
	streamer := &fakeStreamer{}
	bus := events.NewBus()
	h := New(context.Background(), streamer, bus)

	busCh, unsubBus := bus.Subscribe(events.EventPriceTick, 8)
	defer unsubBus()

	ch, unsub := h.Subscribe(context.Background(), "BTCUSDT")
	defer unsub()
	waitFor(t, func() bool { return streamer.connectCount() == 1 }, "upstream connected")

	streamer.push(tick(31000))
	recv(t, ch)

	select {
	case payload := <-busCh:
		tk, ok := payload.(common.PriceTick)
		if !ok || tk.Price != 31000 {
			t.Fatalf("bus payload=%v, expected tick at 31000", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no bus event received")
	}
}
