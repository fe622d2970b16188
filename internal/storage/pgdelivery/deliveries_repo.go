package pgdelivery

import (
	"context"
	"time"

	"github.com/foodfast/skytrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const deliveryColumns = `
  id, order_id, drone_code, status,
  destination_address, dest_lat, dest_lng, start_lat, start_lng,
  position_lat, position_lng, speed_kmh, last_seq,
  distance_remaining_km, eta_minutes, last_polled_at,
  created_at, assigned_at, picked_up_at, delivering_at, completed_at`

func scanDelivery(row pgx.Row) (*models.Delivery, error) {
	var d models.Delivery
	var posLat, posLng, speed *float64
	var lastSeq int64
	if err := row.Scan(
		&d.ID, &d.OrderID, &d.DroneCode, &d.Status,
		&d.DestinationAddress, &d.DestLat, &d.DestLng, &d.StartLat, &d.StartLng,
		&posLat, &posLng, &speed, &lastSeq,
		&d.DistanceRemainingKm, &d.EtaMinutes, &d.LastPolledAt,
		&d.CreatedAt, &d.AssignedAt, &d.PickedUpAt, &d.DeliveringAt, &d.CompletedAt,
	); err != nil {
		return nil, err
	}
	if posLat != nil && posLng != nil {
		pos := models.CanonicalPosition{Lat: *posLat, Lng: *posLng, Seq: uint64(lastSeq)}
		if speed != nil {
			pos.SpeedKmh = *speed
		}
		d.Position = &pos
	}
	return &d, nil
}

func (s *Storage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO deliveries (
  id, order_id, drone_code, status,
  destination_address, dest_lat, dest_lng, start_lat, start_lng,
  created_at, assigned_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, d.ID, d.OrderID, d.DroneCode, d.Status,
		d.DestinationAddress, d.DestLat, d.DestLng, d.StartLat, d.StartLng,
		d.CreatedAt, d.AssignedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: the order already has a delivery.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.Wrapf(models.ErrAlreadyRecorded, "order %d already has a delivery", d.OrderID)
		}
		return errors.Wrap(err, "insert delivery")
	}
	return nil
}

func (s *Storage) GetDelivery(ctx context.Context, deliveryID string) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, deliveryID))
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrDeliveryNotFound, "delivery %s", deliveryID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery")
	}
	return d, nil
}

func (s *Storage) GetDeliveryByOrder(ctx context.Context, orderID uint64) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = $1`, orderID))
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrDeliveryNotFound, "order %d has no delivery", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery by order")
	}
	return d, nil
}

func (s *Storage) GetActiveDeliveryByDrone(ctx context.Context, droneCode string) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx, `
SELECT `+deliveryColumns+`
FROM deliveries
WHERE drone_code = $1 AND status NOT IN ($2, $3)
ORDER BY created_at DESC
LIMIT 1
`, droneCode, models.DeliveryStatusCompleted, models.DeliveryStatusCancelled))
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrDeliveryNotFound, "drone %s has no active delivery", droneCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery by drone")
	}
	return d, nil
}

func (s *Storage) ListActiveDeliveries(ctx context.Context) ([]*models.Delivery, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+deliveryColumns+`
FROM deliveries
WHERE status NOT IN ($1, $2)
ORDER BY created_at
`, models.DeliveryStatusCompleted, models.DeliveryStatusCancelled)
	if err != nil {
		return nil, errors.Wrap(err, "select active deliveries")
	}
	defer rows.Close()

	var out []*models.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// stageColumn maps a target status to the timestamp column stamped on entry.
func stageColumn(to string) string {
	switch to {
	case models.DeliveryStatusPickedUp:
		return "picked_up_at"
	case models.DeliveryStatusDelivering:
		return "delivering_at"
	case models.DeliveryStatusCompleted, models.DeliveryStatusCancelled:
		return "completed_at"
	}
	return ""
}

// AdvanceDelivery is a compare-and-set on status: it succeeds only when the
// current status is one of from, so exactly one of two racing advances wins.
// The loser gets ErrAlreadyRecorded and must not repeat side effects.
func (s *Storage) AdvanceDelivery(ctx context.Context, orderID uint64, from []string, to string, at time.Time) (*models.Delivery, error) {
	q := `UPDATE deliveries SET status = $3`
	if col := stageColumn(to); col != "" {
		q += `, ` + col + ` = $4`
	} else {
		q += `, assigned_at = COALESCE(assigned_at, $4)`
	}
	q += ` WHERE order_id = $1 AND status = ANY($2) RETURNING ` + deliveryColumns

	d, err := scanDelivery(s.db.QueryRow(ctx, q, orderID, from, to, at))
	if err == pgx.ErrNoRows {
		if _, getErr := s.GetDeliveryByOrder(ctx, orderID); getErr != nil {
			return nil, getErr
		}
		return nil, errors.Wrapf(models.ErrAlreadyRecorded, "order %d delivery cannot move to %s", orderID, to)
	}
	if err != nil {
		return nil, errors.Wrap(err, "advance delivery")
	}
	return d, nil
}

// ApplyPositionUpdate persists the observation only when seq advances and the
// delivery is still active. Returns nil, nil when the update was stale.
func (s *Storage) ApplyPositionUpdate(ctx context.Context, deliveryID string, pos models.CanonicalPosition, distanceKm float64, etaMinutes int, at time.Time) (*models.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx, `
UPDATE deliveries
SET position_lat = $2, position_lng = $3, speed_kmh = $4, last_seq = $5,
    distance_remaining_km = $6, eta_minutes = $7, last_polled_at = $8
WHERE id = $1
  AND (last_seq < $5 OR last_polled_at IS NULL)
  AND status NOT IN ($9, $10)
RETURNING `+deliveryColumns,
		deliveryID, pos.Lat, pos.Lng, pos.SpeedKmh, int64(pos.Seq),
		distanceKm, etaMinutes, at,
		models.DeliveryStatusCompleted, models.DeliveryStatusCancelled))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "apply position update")
	}
	return d, nil
}
