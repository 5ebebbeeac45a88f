package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mellowlab/asmrgen/internal/models"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	const query = `
INSERT INTO orders (user_id, package_id, provider, checkout_id, payment_url, credits, amount_minor_units, currency, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, order.UserID, order.PackageID, order.Provider, order.CheckoutID, order.PaymentURL, order.Credits, order.AmountMinorUnits, order.Currency, order.Status, order.RawPayload)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("order last insert id: %w", err)
	}
	order.ID = id
	return nil
}

func (r *OrderRepository) FindByCheckoutID(ctx context.Context, checkoutID string) (*models.Order, error) {
	const query = `
SELECT id, user_id, package_id, provider, checkout_id, COALESCE(payment_url, ''), credits, amount_minor_units, currency, status, COALESCE(raw_payload, ''), created_at, COALESCE(updated_at, created_at)
FROM orders WHERE checkout_id = ?
LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, checkoutID)
	var o models.Order
	var packageID sql.NullInt64
	if err := row.Scan(&o.ID, &o.UserID, &packageID, &o.Provider, &o.CheckoutID, &o.PaymentURL, &o.Credits, &o.AmountMinorUnits, &o.Currency, &o.Status, &o.RawPayload, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if packageID.Valid {
		o.PackageID = &packageID.Int64
	}
	return &o, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID int64, status models.OrderStatus, payload string) error {
	const query = `UPDATE orders SET status = ?, raw_payload = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, payload, orderID); err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}
