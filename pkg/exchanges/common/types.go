package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side, used when flattening or replenishing.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType enumerates the order types the engine accepts. Validation and
// wire-format construction switch exhaustively over these, so adding a type
// is a compile-time-checked extension.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeStopLimit        OrderType = "STOP_LIMIT"
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// RequiresPrice reports whether the type carries a limit price.
func (t OrderType) RequiresPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeTakeProfit:
		return true
	}
	return false
}

// RequiresStopPrice reports whether the type carries a trigger price.
func (t OrderType) RequiresStopPrice() bool {
	switch t {
	case OrderTypeStopMarket, OrderTypeStopLimit, OrderTypeTakeProfit, OrderTypeTakeProfitMarket:
		return true
	}
	return false
}

// Valid reports whether t is one of the supported order types.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopMarket,
		OrderTypeStopLimit, OrderTypeTakeProfit, OrderTypeTakeProfitMarket:
		return true
	}
	return false
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange order state.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// HasFill reports whether at least part of the order executed.
func (s OrderStatus) HasFill() bool {
	return s == StatusFilled || s == StatusPartiallyFilled
}

// OrderRequest captures an order intent to be sent to the exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // required for LIMIT/STOP_LIMIT/TAKE_PROFIT
	StopPrice   float64 // required for STOP_* and TAKE_PROFIT*
	TimeInForce TimeInForce
	ReduceOnly  bool
	ClientID    string // optional client order id
}

// OrderRecord is the exchange's view of a submitted order.
type OrderRecord struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            Side
	Type            OrderType
	Status          OrderStatus
	Price           float64
	Qty             float64
	ExecutedQty     float64
	AvgPrice        float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SymbolRules holds per-symbol exchange filters consumed by every
// order-producing component.
type SymbolRules struct {
	Symbol      string
	TickSize    float64
	StepSize    float64
	MinNotional float64
}

// Position is a read-only projection of the exchange's position view.
// The engine never writes it directly, only through order placement.
type Position struct {
	Symbol           string
	Amount           float64 // signed: positive long, negative short
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedPnL    float64
	LiquidationPrice float64
	Leverage         int
}

// PriceTick is one mark-price update from the market stream.
type PriceTick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// Kline is a single candle, used for strategy warm-up.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
