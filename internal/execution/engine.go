// Package execution places and cancels orders against the exchange gateway
// and records the resulting order state. Manual orders and every
// orchestrator go through it.
package execution

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"execution-core/internal/events"
	"execution-core/internal/rules"
	"execution-core/internal/validator"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// Engine validates, submits and journals orders.
type Engine struct {
	gw      common.Gateway
	rules   *rules.Cache
	bus     *events.Bus
	journal *db.Database // optional audit trail
}

// New builds the execution engine. journal may be nil.
func New(gw common.Gateway, rulesCache *rules.Cache, bus *events.Bus, journal *db.Database) *Engine {
	return &Engine{gw: gw, rules: rulesCache, bus: bus, journal: journal}
}

// PlaceOrder validates req against the symbol's rules and submits it.
// Exchange rejections surface as *common.ExchangeError with the venue's
// reason untouched.
func (e *Engine) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderRecord, error) {
	return e.PlaceJobOrder(ctx, "", req)
}

// PlaceJobOrder is PlaceOrder with the owning job recorded in the journal.
func (e *Engine) PlaceJobOrder(ctx context.Context, jobKey string, req common.OrderRequest) (common.OrderRecord, error) {
	symbolRules, err := e.rules.Get(ctx, req.Symbol)
	if err != nil {
		return common.OrderRecord{}, err
	}

	// Orders without a limit price need the mark price for the notional
	// check. Best effort: a missing reference price skips that check
	// rather than blocking the order.
	var refPrice float64
	if !req.Type.RequiresPrice() {
		refPrice, err = e.gw.GetMarkPrice(ctx, req.Symbol)
		if err != nil {
			log.Printf("[EXEC] mark price for %s unavailable: %v", req.Symbol, err)
			refPrice = 0
		}
	}

	normalized, err := validator.Normalize(req, symbolRules, refPrice)
	if err != nil {
		return common.OrderRecord{}, err
	}
	if normalized.ClientID == "" {
		normalized.ClientID = uuid.NewString()
	}

	record, err := e.gw.PlaceOrder(ctx, normalized)
	if err != nil {
		if ee, ok := common.AsExchangeError(err); ok {
			e.journalOrder(ctx, jobKey, common.OrderRecord{
				ClientOrderID: normalized.ClientID,
				Symbol:        normalized.Symbol,
				Side:          normalized.Side,
				Type:          normalized.Type,
				Price:         normalized.Price,
				Qty:           normalized.Qty,
				Status:        common.StatusRejected,
			})
			e.publish(events.EventOrderRejected, ee.Error())
		}
		return common.OrderRecord{}, err
	}

	e.journalOrder(ctx, jobKey, record)
	e.publish(events.EventOrderSubmitted, record)
	if record.Status == common.StatusFilled {
		e.publish(events.EventOrderFilled, record)
	}
	log.Printf("[EXEC] %s %s %s qty=%v status=%s exch_id=%s",
		record.Symbol, record.Side, record.Type, record.Qty, record.Status, record.ExchangeOrderID)
	return record, nil
}

// CancelOrder cancels an order. "Order not found" counts as success: the
// caller cannot distinguish already-filled from already-canceled without a
// status query, and retries must not fail spuriously.
func (e *Engine) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := e.gw.CancelOrder(ctx, symbol, orderID)
	if err == nil {
		return nil
	}
	if ee, ok := common.AsExchangeError(err); ok && ee.OrderGone() {
		return nil
	}
	return fmt.Errorf("cancel order %s on %s: %w", orderID, symbol, err)
}

// GetOpenOrders lists open orders; symbol may be empty.
func (e *Engine) GetOpenOrders(ctx context.Context, symbol string) ([]common.OrderRecord, error) {
	return e.gw.GetOpenOrders(ctx, symbol)
}

// GetOrderStatus queries a single order's current state.
func (e *Engine) GetOrderStatus(ctx context.Context, symbol, orderID string) (common.OrderRecord, error) {
	return e.gw.GetOrderStatus(ctx, symbol, orderID)
}

// Position returns the current signed position for a symbol.
func (e *Engine) Position(ctx context.Context, symbol string) (common.Position, error) {
	return e.gw.GetPosition(ctx, symbol)
}

// MarkPrice returns the current mark price for a symbol.
func (e *Engine) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	return e.gw.GetMarkPrice(ctx, symbol)
}

// Klines returns recent candles for strategy warm-up.
func (e *Engine) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	return e.gw.GetKlines(ctx, symbol, interval, limit)
}

func (e *Engine) journalOrder(ctx context.Context, jobKey string, rec common.OrderRecord) {
	if e.journal == nil {
		return
	}
	err := e.journal.RecordOrder(ctx, db.Order{
		ClientOrderID:   rec.ClientOrderID,
		ExchangeOrderID: rec.ExchangeOrderID,
		JobKey:          jobKey,
		Symbol:          rec.Symbol,
		Side:            string(rec.Side),
		Type:            string(rec.Type),
		Price:           rec.Price,
		Qty:             rec.Qty,
		ExecutedQty:     rec.ExecutedQty,
		AvgPrice:        rec.AvgPrice,
		Status:          string(rec.Status),
	})
	if err != nil {
		log.Printf("[EXEC] journal order %s: %v", rec.ClientOrderID, err)
	}
}

func (e *Engine) publish(event events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(event, payload)
	}
}
