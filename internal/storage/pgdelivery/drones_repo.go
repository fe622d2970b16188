package pgdelivery

import (
	"context"
	"time"

	"github.com/foodfast/skytrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const droneColumns = `
  id, code, name, status, battery_level,
  current_lat, current_lng, max_speed_kmh,
  total_deliveries, total_distance_km,
  created_at, updated_at`

func scanDrone(row pgx.Row) (*models.Drone, error) {
	var d models.Drone
	if err := row.Scan(
		&d.ID, &d.Code, &d.Name, &d.Status, &d.BatteryLevel,
		&d.CurrentLat, &d.CurrentLng, &d.MaxSpeedKmh,
		&d.TotalDeliveries, &d.TotalDistanceKm,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Storage) CreateDrone(ctx context.Context, in models.DroneCreateInput, now time.Time) (*models.Drone, error) {
	d, err := scanDrone(s.db.QueryRow(ctx, `
INSERT INTO drones (code, name, status, battery_level, max_speed_kmh, created_at, updated_at)
VALUES ($1,$2,$3,100,$4,$5,$5)
RETURNING `+droneColumns,
		in.Code, in.Name, models.DroneStatusAvailable, in.MaxSpeedKmh, now))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, errors.Wrapf(models.ErrAlreadyRecorded, "drone code %s already registered", in.Code)
		}
		return nil, errors.Wrap(err, "insert drone")
	}
	return d, nil
}

func (s *Storage) GetDroneByCode(ctx context.Context, code string) (*models.Drone, error) {
	d, err := scanDrone(s.db.QueryRow(ctx,
		`SELECT `+droneColumns+` FROM drones WHERE code = $1`, code))
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrDroneNotFound, "drone %s", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select drone")
	}
	return d, nil
}

func (s *Storage) ListDrones(ctx context.Context, status string) ([]*models.Drone, error) {
	q := `SELECT ` + droneColumns + ` FROM drones`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY id`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select drones")
	}
	defer rows.Close()

	var out []*models.Drone
	for rows.Next() {
		d, err := scanDrone(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan drone")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimAvailableDrone marks one available drone BUSY and returns it. SKIP
// LOCKED keeps two concurrent claims from picking the same row.
func (s *Storage) ClaimAvailableDrone(ctx context.Context) (*models.Drone, error) {
	d, err := scanDrone(s.db.QueryRow(ctx, `
UPDATE drones
SET status = $1, updated_at = now()
WHERE id = (
  SELECT id FROM drones
  WHERE status = $2 AND battery_level >= $3
  ORDER BY battery_level DESC, id
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING `+droneColumns,
		models.DroneStatusBusy, models.DroneStatusAvailable, models.MinBatteryForDelivery))
	if err == pgx.ErrNoRows {
		return nil, errors.Wrap(models.ErrNoDroneAvailable, "claim drone")
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim drone")
	}
	return d, nil
}

// ReleaseDrone frees the drone after its delivery ends. A completed flight
// credits the drone's totals and drains battery at 2% per km; a drone landing
// below the dispatch threshold goes to CHARGING instead of AVAILABLE.
func (s *Storage) ReleaseDrone(ctx context.Context, code string, flightKm float64, completed bool) error {
	var tag pgconn.CommandTag
	var err error
	if completed {
		tag, err = s.db.Exec(ctx, `
UPDATE drones
SET battery_level = GREATEST(0, battery_level - CEIL($2 * 2)::int),
    total_deliveries = total_deliveries + 1,
    total_distance_km = total_distance_km + $2,
    status = CASE
      WHEN GREATEST(0, battery_level - CEIL($2 * 2)::int) < $3 THEN $4
      ELSE $5
    END,
    updated_at = now()
WHERE code = $1
`, code, flightKm, models.MinBatteryForDelivery, models.DroneStatusCharging, models.DroneStatusAvailable)
	} else {
		tag, err = s.db.Exec(ctx, `
UPDATE drones SET status = $2, updated_at = now() WHERE code = $1
`, code, models.DroneStatusAvailable)
	}
	if err != nil {
		return errors.Wrap(err, "release drone")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrDroneNotFound, "drone %s", code)
	}
	return nil
}

// ChargeDrone refills battery and returns the drone to service unless it is
// out for maintenance.
func (s *Storage) ChargeDrone(ctx context.Context, code string) (*models.Drone, error) {
	d, err := scanDrone(s.db.QueryRow(ctx, `
UPDATE drones
SET battery_level = 100,
    status = CASE WHEN status IN ($2, $3) THEN $4 ELSE status END,
    updated_at = now()
WHERE code = $1
RETURNING `+droneColumns,
		code, models.DroneStatusCharging, models.DroneStatusOffline, models.DroneStatusAvailable))
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrDroneNotFound, "drone %s", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "charge drone")
	}
	return d, nil
}

// UpdateDronePosition records the drone's last reported coordinates.
func (s *Storage) UpdateDronePosition(ctx context.Context, code string, lat, lng float64) error {
	_, err := s.db.Exec(ctx, `
UPDATE drones SET current_lat = $2, current_lng = $3, updated_at = now() WHERE code = $1
`, code, lat, lng)
	return errors.Wrap(err, "update drone position")
}
