package pgdelivery

import (
	"context"
	"time"

	"github.com/foodfast/skytrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateOrder(ctx context.Context, in models.OrderCreateInput, totalPrice float64, now time.Time) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO orders (
  customer_id, restaurant_id, status, total_price,
  delivery_address, dest_lat, dest_lng,
  created_at, status_changed_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING id
`, in.CustomerID, in.RestaurantID, models.OrderStatusNew, totalPrice,
		in.DeliveryAddress, in.DestLat, in.DestLng, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	for _, it := range in.Items {
		_, err := tx.Exec(ctx, `
INSERT INTO order_items (order_id, product_id, quantity, unit_price)
VALUES ($1,$2,$3,$4)
`, id, it.ProductID, it.Quantity, it.UnitPrice)
		if err != nil {
			return nil, errors.Wrap(err, "insert order item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetOrder(ctx, id)
}

func (s *Storage) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	var o models.Order
	err := s.db.QueryRow(ctx, `
SELECT
  id, customer_id, restaurant_id, status, total_price,
  delivery_address, dest_lat, dest_lng,
  created_at, status_changed_at
FROM orders
WHERE id = $1
`, orderID).Scan(
		&o.ID, &o.CustomerID, &o.RestaurantID, &o.Status, &o.TotalPrice,
		&o.DeliveryAddress, &o.DestLat, &o.DestLng,
		&o.CreatedAt, &o.StatusChangedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrOrderNotFound, "order %d", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}

	rows, err := s.db.Query(ctx, `
SELECT product_id, quantity, unit_price
FROM order_items
WHERE order_id = $1
ORDER BY id
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order items")
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		o.Items = append(o.Items, it)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return &o, nil
}

// UpdateOrderStatus commits only when the stored status still equals from.
// A lost race surfaces as ErrInvalidTransition so the caller can re-read.
func (s *Storage) UpdateOrderStatus(ctx context.Context, orderID uint64, from, to string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET status = $3, status_changed_at = $4
WHERE id = $1 AND status = $2
`, orderID, from, to, at)
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetOrder(ctx, orderID); err != nil {
			return err
		}
		return errors.Wrapf(models.ErrInvalidTransition, "order %d is no longer %s", orderID, from)
	}
	return nil
}
