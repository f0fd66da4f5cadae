package futures

import (
	"strconv"
	"time"

	"execution-core/pkg/exchanges/common"
)

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			StepSize   string `json:"stepSize"`
			Notional   string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigType      string `json:"origType"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func (o orderResp) toRecord() common.OrderRecord {
	rec := common.OrderRecord{
		ExchangeOrderID: formatInt(o.OrderID),
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            common.Side(o.Side),
		Type:            engineType(o.Type, o.OrigType),
		Status:          common.OrderStatus(o.Status),
		Price:           parseFloat(o.Price),
		Qty:             parseFloat(o.OrigQty),
		ExecutedQty:     parseFloat(o.ExecutedQty),
		AvgPrice:        parseFloat(o.AvgPrice),
	}
	if o.Time > 0 {
		rec.CreatedAt = time.UnixMilli(o.Time)
	}
	if o.UpdateTime > 0 {
		rec.UpdatedAt = time.UnixMilli(o.UpdateTime)
	}
	return rec
}

// engineType reverses wireType; Binance reports stop-limit orders as "STOP".
func engineType(wire, origType string) common.OrderType {
	t := wire
	if origType != "" {
		t = origType
	}
	if t == "STOP" {
		return common.OrderTypeStopLimit
	}
	return common.OrderType(t)
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
}

func formatInt(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
