package pgdelivery

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  customer_id BIGINT NOT NULL,
  restaurant_id BIGINT NOT NULL,
  status TEXT NOT NULL,
  total_price DOUBLE PRECISION NOT NULL,
  delivery_address TEXT NOT NULL DEFAULT '',
  dest_lat DOUBLE PRECISION NOT NULL,
  dest_lng DOUBLE PRECISION NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  status_changed_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`
CREATE TABLE IF NOT EXISTS order_items (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  product_id BIGINT NOT NULL,
  quantity INT NOT NULL,
  unit_price DOUBLE PRECISION NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		`
CREATE TABLE IF NOT EXISTS deliveries (
  id TEXT PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id),
  drone_code TEXT NOT NULL,
  status TEXT NOT NULL,
  destination_address TEXT NOT NULL DEFAULT '',
  dest_lat DOUBLE PRECISION NOT NULL,
  dest_lng DOUBLE PRECISION NOT NULL,
  start_lat DOUBLE PRECISION NOT NULL,
  start_lng DOUBLE PRECISION NOT NULL,
  position_lat DOUBLE PRECISION NULL,
  position_lng DOUBLE PRECISION NULL,
  speed_kmh DOUBLE PRECISION NULL,
  last_seq BIGINT NOT NULL DEFAULT 0,
  distance_remaining_km DOUBLE PRECISION NULL,
  eta_minutes INT NULL,
  last_polled_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  assigned_at TIMESTAMPTZ NULL,
  picked_up_at TIMESTAMPTZ NULL,
  delivering_at TIMESTAMPTZ NULL,
  completed_at TIMESTAMPTZ NULL,
  UNIQUE (order_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_drone_code ON deliveries(drone_code)`,
		`
CREATE TABLE IF NOT EXISTS drones (
  id BIGSERIAL PRIMARY KEY,
  code TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  battery_level INT NOT NULL,
  current_lat DOUBLE PRECISION NULL,
  current_lng DOUBLE PRECISION NULL,
  max_speed_kmh DOUBLE PRECISION NOT NULL,
  total_deliveries INT NOT NULL DEFAULT 0,
  total_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (code)
)`,
		`CREATE INDEX IF NOT EXISTS idx_drones_status ON drones(status)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
