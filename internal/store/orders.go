package store

import (
	"context"
	"database/sql"
	"fmt"

	"shop-assistant/internal/models"
)

// CreateOrder records a new order after the external backend accepted it
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (external_id, user_id, product_id, product_title, quantity,
			unit_price, subtotal, service_fee, total, currency,
			customer_name, customer_email, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		order.ExternalID, order.UserID, order.ProductID, order.ProductTitle, order.Quantity,
		order.UnitPrice, order.Subtotal, order.ServiceFee, order.Total, order.Currency,
		order.CustomerName, order.CustomerEmail, order.Status, order.IdempotencyKey)
	return row.Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, nil when
// none exists
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// MarkOrderPaid flips a PENDING order to PAID. Returns false when the order
// was not PENDING anymore, guarding against a second capture path racing in.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		models.OrderStatusPaid, orderID, models.OrderStatusPending)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetStuckPendingOrders lists orders that have sat in PENDING longer than
// the given interval. Input for an external reconciliation pass.
func (s *Store) GetStuckPendingOrders(ctx context.Context, olderThanSeconds int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 AND created_at < NOW() - ($2 || ' seconds')::interval ORDER BY created_at",
		models.OrderStatusPending, olderThanSeconds)
	return orders, err
}
