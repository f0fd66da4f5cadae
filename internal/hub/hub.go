// Package hub fans one upstream mark-price stream per symbol out to any
// number of subscribers: strategy runners, websocket clients, metrics.
// Upstreams start lazily with the first subscriber and shut down when the
// last one leaves.
package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"execution-core/internal/events"
	"execution-core/pkg/exchanges/common"
)

// Streamer opens one upstream mark-price subscription. The returned channel
// closes on disconnect; the hub reconnects with backoff.
type Streamer interface {
	SubscribeMarkPrice(ctx context.Context, symbol string) (<-chan common.PriceTick, func(), error)
}

const (
	subscriberBuffer = 16
	reconnectBase    = time.Second
	reconnectMax     = 30 * time.Second
)

// Hub multiplexes market data streams.
type Hub struct {
	baseCtx  context.Context // bounds upstream lifetimes, not subscribers
	streamer Streamer
	bus      *events.Bus

	mu    sync.Mutex
	feeds map[string]*feed
}

type feed struct {
	subs   map[chan common.PriceTick]struct{}
	cancel context.CancelFunc

	lastMu sync.RWMutex
	last   common.PriceTick
}

// New builds a hub over the given stream source. ctx bounds every upstream
// connection; bus may be nil.
func New(ctx context.Context, streamer Streamer, bus *events.Bus) *Hub {
	return &Hub{baseCtx: ctx, streamer: streamer, bus: bus, feeds: make(map[string]*feed)}
}

// Subscribe returns a tick channel for the symbol and an unsubscribe
// function. The first subscriber starts the upstream; the channel is closed
// on unsubscribe. The upstream outlives ctx: it stops when the last
// subscriber leaves or the hub's own context ends.
func (h *Hub) Subscribe(ctx context.Context, symbol string) (<-chan common.PriceTick, func()) {
	ch := make(chan common.PriceTick, subscriberBuffer)

	h.mu.Lock()
	f, ok := h.feeds[symbol]
	if !ok {
		feedCtx, cancel := context.WithCancel(h.baseCtx)
		f = &feed{subs: make(map[chan common.PriceTick]struct{}), cancel: cancel}
		h.feeds[symbol] = f
		go h.pump(feedCtx, symbol, f)
	}
	f.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(f.subs, ch)
			close(ch)
			if len(f.subs) == 0 {
				f.cancel()
				delete(h.feeds, symbol)
			}
		})
	}
	return ch, unsub
}

// LastPrice returns the most recent tick seen for a symbol, if any.
func (h *Hub) LastPrice(symbol string) (common.PriceTick, bool) {
	h.mu.Lock()
	f, ok := h.feeds[symbol]
	h.mu.Unlock()
	if !ok {
		return common.PriceTick{}, false
	}
	f.lastMu.RLock()
	defer f.lastMu.RUnlock()
	return f.last, f.last.Symbol != ""
}

// pump owns one upstream connection, reconnecting with doubling backoff
// until the feed's context ends.
func (h *Hub) pump(ctx context.Context, symbol string, f *feed) {
	backoff := reconnectBase
	for {
		ticks, stop, err := h.streamer.SubscribeMarkPrice(ctx, symbol)
		if err != nil {
			log.Printf("[HUB] %s: connect failed, retrying in %v: %v", symbol, backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectBase

		h.forward(ctx, symbol, f, ticks)
		stop()

		select {
		case <-ctx.Done():
			return
		default:
			log.Printf("[HUB] %s: stream ended, reconnecting", symbol)
		}
	}
}

// forward relays ticks until the upstream channel closes. Slow subscribers
// lose ticks rather than stalling the others.
func (h *Hub) forward(ctx context.Context, symbol string, f *feed, ticks <-chan common.PriceTick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			f.lastMu.Lock()
			f.last = tick
			f.lastMu.Unlock()

			if h.bus != nil {
				h.bus.Publish(events.EventPriceTick, tick)
			}

			h.mu.Lock()
			for ch := range f.subs {
				select {
				case ch <- tick:
				default:
				}
			}
			h.mu.Unlock()
		}
	}
}
