// Package market streams public market data from Binance futures websockets.
package market

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"execution-core/pkg/exchanges/common"
)

// StreamClient manages lightweight streaming from the futures public
// websocket endpoint.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := "fstream.binance.com"
	if testnet {
		host = "stream.binancefuture.com"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
	}
}

// SubscribeMarkPrice listens to the 1s mark-price stream for a symbol and
// pushes parsed ticks into a channel. It returns the channel and a stop
// function. The channel closes on disconnect; callers that need a
// continuous feed resubscribe (the broadcast hub does this).
func (c *StreamClient) SubscribeMarkPrice(ctx context.Context, symbol string) (<-chan common.PriceTick, func(), error) {
	// Binance requires lowercase symbols for websocket stream names.
	stream := fmt.Sprintf("%s@markPrice@1s", strings.ToLower(symbol))
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial mark price ws: %w", err)
	}

	out := make(chan common.PriceTick, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			// Connection may already be closed; ignore errors.
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		})
	}

	// Only the reader closes out, so stop can never race a send.
	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			tick, err := parseMarkPriceMessage(msg)
			if err != nil {
				continue
			}
			select {
			case out <- tick:
			default:
				// Drop when the consumer is slow; the next tick supersedes.
			}
		}
	}()

	return out, stop, nil
}
