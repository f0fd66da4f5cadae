package db

import (
	"context"
	"database/sql"
	"time"
)

// Order is one journal row for a submitted order.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	JobKey          string
	Symbol          string
	Side            string
	Type            string
	Price           float64
	Qty             float64
	ExecutedQty     float64
	AvgPrice        float64
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RecordOrder inserts or replaces a journal row for an order submission.
func (d *Database) RecordOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (client_order_id, exchange_order_id, job_key, symbol, side, type, price, qty, executed_qty, avg_price, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			executed_qty = excluded.executed_qty,
			avg_price = excluded.avg_price,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`, o.ClientOrderID, o.ExchangeOrderID, o.JobKey, o.Symbol, o.Side, o.Type, o.Price, o.Qty, o.ExecutedQty, o.AvgPrice, o.Status)
	return err
}

// ListOrders returns the most recent journal rows, newest first. Symbol is
// optional.
func (d *Database) ListOrders(ctx context.Context, symbol string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT client_order_id, COALESCE(exchange_order_id, ''), COALESCE(job_key, ''),
		       symbol, side, type, price, qty, executed_qty, avg_price, status, created_at, updated_at
		FROM orders`
	args := []any{}
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ClientOrderID, &o.ExchangeOrderID, &o.JobKey, &o.Symbol, &o.Side, &o.Type,
			&o.Price, &o.Qty, &o.ExecutedQty, &o.AvgPrice, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// User is an operator account for the HTTP API.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts an operator account.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash)
	return err
}

// GetUserByEmail looks up an operator account; returns sql.ErrNoRows when
// missing.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// ErrNoRows re-exports sql.ErrNoRows so callers don't import database/sql
// just for the sentinel.
var ErrNoRows = sql.ErrNoRows
