package deliveries

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/foodfast/skytrack/internal/broker/messages"
	"github.com/foodfast/skytrack/internal/cache"
	"github.com/foodfast/skytrack/internal/geo"
	"github.com/foodfast/skytrack/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	GetDeliveryByOrder(ctx context.Context, orderID uint64) (*models.Delivery, error)
	GetDelivery(ctx context.Context, deliveryID string) (*models.Delivery, error)
	GetActiveDeliveryByDrone(ctx context.Context, droneCode string) (*models.Delivery, error)
	ListActiveDeliveries(ctx context.Context) ([]*models.Delivery, error)
	// ApplyPositionUpdate persists the observation only when its seq advances
	// past the stored one and the delivery is still active. Returns the
	// refreshed delivery, or nil when the update was stale.
	ApplyPositionUpdate(ctx context.Context, deliveryID string, pos models.CanonicalPosition, distanceKm float64, etaMinutes int, at time.Time) (*models.Delivery, error)
}

// Service is the read side: snapshots for customers and the update sink that
// keeps them fresh from the track worker's stream.
type Service struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{repo: repo, cache: c, ttl: ttl}
}

func snapshotKey(orderID uint64) string {
	return fmt.Sprintf("delivery:%d:current", orderID)
}

// GetByOrder returns the order's delivery snapshot, cache first. An order
// that exists but has no delivery yet gets a pending-shaped snapshot instead
// of an error: "not dispatched yet" and "no such order" are different answers.
func (s *Service) GetByOrder(ctx context.Context, orderID uint64) (*models.DeliverySnapshot, error) {
	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, snapshotKey(orderID)); err != nil {
			slog.Warn("snapshot cache read", "order_id", orderID, "error", err.Error())
		} else if ok {
			var snap models.DeliverySnapshot
			if err := json.Unmarshal(b, &snap); err == nil {
				return &snap, nil
			}
		}
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	d, err := s.repo.GetDeliveryByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, models.ErrDeliveryNotFound) {
			return &models.DeliverySnapshot{
				OrderID:        orderID,
				OrderStatus:    o.Status,
				DeliveryStatus: models.DeliveryStatusPending,
				UpdatedAt:      o.StatusChangedAt,
			}, nil
		}
		return nil, err
	}

	snap := buildSnapshot(o, d)
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

func (s *Service) GetByDelivery(ctx context.Context, deliveryID string) (*models.DeliverySnapshot, error) {
	d, err := s.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	o, err := s.repo.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(o, d), nil
}

func (s *Service) GetActiveByDrone(ctx context.Context, droneCode string) (*models.DeliverySnapshot, error) {
	d, err := s.repo.GetActiveDeliveryByDrone(ctx, droneCode)
	if err != nil {
		return nil, err
	}
	o, err := s.repo.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	return buildSnapshot(o, d), nil
}

func (s *Service) ListActive(ctx context.Context) ([]*models.Delivery, error) {
	return s.repo.ListActiveDeliveries(ctx)
}

// ApplyUpdate persists one observation from the delivery.updated stream and
// refreshes the cached snapshot. Stale messages (seq not advancing) are
// dropped quietly.
func (s *Service) ApplyUpdate(ctx context.Context, msg messages.DeliveryUpdated) error {
	pos := models.CanonicalPosition{
		Lat:      msg.Lat,
		Lng:      msg.Lng,
		SpeedKmh: msg.SpeedKmh,
		Seq:      msg.Seq,
	}
	d, err := s.repo.ApplyPositionUpdate(ctx, msg.DeliveryID, pos, msg.DistanceRemainingKm, msg.EtaMinutes, msg.CheckedAt)
	if err != nil {
		return errors.Wrap(err, "apply position update")
	}
	if d == nil {
		return nil
	}

	o, err := s.repo.GetOrder(ctx, d.OrderID)
	if err != nil {
		return err
	}
	s.cacheSnapshot(ctx, buildSnapshot(o, d))
	return nil
}

func buildSnapshot(o *models.Order, d *models.Delivery) *models.DeliverySnapshot {
	snap := &models.DeliverySnapshot{
		OrderID:        o.ID,
		OrderStatus:    o.Status,
		DeliveryID:     d.ID,
		DeliveryStatus: d.Status,
		DroneCode:      d.DroneCode,
		Position:       d.Position,
		DistanceKm:     d.DistanceRemainingKm,
		EtaMinutes:     d.EtaMinutes,
		UpdatedAt:      d.CreatedAt,
	}
	if d.DistanceRemainingKm != nil {
		snap.Arrived = *d.DistanceRemainingKm < geo.ArrivalThresholdKm
	}
	if d.LastPolledAt != nil {
		snap.UpdatedAt = *d.LastPolledAt
	}
	return snap
}

func (s *Service) cacheSnapshot(ctx context.Context, snap *models.DeliverySnapshot) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, snapshotKey(snap.OrderID), b, s.ttl); err != nil {
		slog.Warn("snapshot cache write", "order_id", snap.OrderID, "error", err.Error())
	}
}
