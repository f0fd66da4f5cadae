package common

import "context"

// Gateway abstracts the trading venue. It enforces nothing about business
// semantics, only API mechanics; validation happens before requests reach it.
type Gateway interface {
	GetSymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderRecord, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderRecord, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderRecord, error)
	GetPosition(ctx context.Context, symbol string) (Position, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}
