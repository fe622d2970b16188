package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foodfast/skytrack/internal/broker/messages"
	"github.com/foodfast/skytrack/internal/geo"
	"github.com/foodfast/skytrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Default launch point when a claimed drone has no recorded position yet
// (fresh fleet): central Ho Chi Minh City.
const (
	defaultStartLat = 10.7769
	defaultStartLng = 106.7009
)

type Repository interface {
	// CreateDelivery fails with models.ErrAlreadyRecorded when the order
	// already has a delivery (unique order binding).
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	GetDeliveryByOrder(ctx context.Context, orderID uint64) (*models.Delivery, error)
	// AdvanceDelivery moves the delivery from one of the expected statuses to
	// the target, stamping the stage timestamp exactly once. It fails with
	// models.ErrAlreadyRecorded when the delivery exists but is not in an
	// expected status, so exactly one of two racing advances wins.
	AdvanceDelivery(ctx context.Context, orderID uint64, from []string, to string, at time.Time) (*models.Delivery, error)

	// ClaimAvailableDrone atomically marks one available drone (battery
	// permitting) BUSY, so two orders can never claim the same drone.
	ClaimAvailableDrone(ctx context.Context) (*models.Drone, error)
	ReleaseDrone(ctx context.Context, code string, flightKm float64, completed bool) error

	CreateDrone(ctx context.Context, in models.DroneCreateInput, now time.Time) (*models.Drone, error)
	GetDroneByCode(ctx context.Context, code string) (*models.Drone, error)
	ListDrones(ctx context.Context, status string) ([]*models.Drone, error)
	ChargeDrone(ctx context.Context, code string) (*models.Drone, error)
}

type OrderSource interface {
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service binds orders to drones and mirrors order transitions onto the
// delivery lifecycle.
type Service struct {
	repo     Repository
	orders   OrderSource
	producer Producer
	topic    string
}

func New(repo Repository, orders OrderSource) *Service {
	return &Service{repo: repo, orders: orders}
}

func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

// AssignDrone claims an available drone and creates the order's delivery,
// exactly once. Re-invoking after models.ErrNoDroneAvailable is the caller's
// retry policy; re-invoking after success fails with models.ErrAlreadyRecorded.
func (s *Service) AssignDrone(ctx context.Context, orderID uint64) (*models.Delivery, error) {
	if _, err := s.repo.GetDeliveryByOrder(ctx, orderID); err == nil {
		return nil, errors.Wrapf(models.ErrAlreadyRecorded, "order %d already has a delivery", orderID)
	} else if !errors.Is(err, models.ErrDeliveryNotFound) {
		return nil, err
	}

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	drone, err := s.repo.ClaimAvailableDrone(ctx)
	if err != nil {
		return nil, err
	}

	startLat, startLng := defaultStartLat, defaultStartLng
	if drone.CurrentLat != nil && drone.CurrentLng != nil {
		startLat, startLng = *drone.CurrentLat, *drone.CurrentLng
	}

	now := time.Now().UTC()
	d := &models.Delivery{
		ID:                 uuid.NewString(),
		OrderID:            orderID,
		DroneCode:          drone.Code,
		Status:             models.DeliveryStatusAssigned,
		DestinationAddress: o.DeliveryAddress,
		DestLat:            o.DestLat,
		DestLng:            o.DestLng,
		StartLat:           startLat,
		StartLng:           startLng,
		CreatedAt:          now,
		AssignedAt:         &now,
	}
	if err := s.repo.CreateDelivery(ctx, d); err != nil {
		// Lost a creation race: give the claimed drone back.
		if relErr := s.repo.ReleaseDrone(ctx, drone.Code, 0, false); relErr != nil {
			slog.Error("release drone after failed delivery create", "drone", drone.Code, "error", relErr.Error())
		}
		return nil, err
	}

	s.publishAssigned(ctx, d, drone.MaxSpeedKmh)
	return d, nil
}

// RecordPickup stamps pickedUpAt once; a second call fails with
// models.ErrAlreadyRecorded.
func (s *Service) RecordPickup(ctx context.Context, orderID uint64) error {
	_, err := s.repo.AdvanceDelivery(ctx, orderID,
		[]string{models.DeliveryStatusAssigned, models.DeliveryStatusPickingUp},
		models.DeliveryStatusPickedUp, time.Now().UTC())
	return err
}

func (s *Service) RecordDeliveringStart(ctx context.Context, orderID uint64) error {
	_, err := s.repo.AdvanceDelivery(ctx, orderID,
		[]string{models.DeliveryStatusPickedUp},
		models.DeliveryStatusDelivering, time.Now().UTC())
	return err
}

// RecordCompletion marks the delivery completed and frees the drone,
// crediting the flight to its stats and draining battery.
func (s *Service) RecordCompletion(ctx context.Context, orderID uint64) error {
	d, err := s.repo.AdvanceDelivery(ctx, orderID,
		[]string{models.DeliveryStatusDelivering},
		models.DeliveryStatusCompleted, time.Now().UTC())
	if err != nil {
		return err
	}

	flightKm := geo.HaversineKm(d.StartLat, d.StartLng, d.DestLat, d.DestLng)
	if err := s.repo.ReleaseDrone(ctx, d.DroneCode, flightKm, true); err != nil {
		return errors.Wrap(err, "release drone")
	}
	return nil
}

// CancelDelivery is idempotent and benign: cancelling an order that never got
// a delivery, or racing against completion, is not an error. The drone is
// freed exactly once because only the winning status advance releases it.
func (s *Service) CancelDelivery(ctx context.Context, orderID uint64) error {
	d, err := s.repo.AdvanceDelivery(ctx, orderID,
		[]string{
			models.DeliveryStatusAssigned,
			models.DeliveryStatusPickingUp,
			models.DeliveryStatusPickedUp,
			models.DeliveryStatusDelivering,
		},
		models.DeliveryStatusCancelled, time.Now().UTC())
	if err != nil {
		if errors.Is(err, models.ErrDeliveryNotFound) || errors.Is(err, models.ErrAlreadyRecorded) {
			return nil
		}
		return err
	}

	if err := s.repo.ReleaseDrone(ctx, d.DroneCode, 0, false); err != nil {
		return errors.Wrap(err, "release drone")
	}
	return nil
}

// OnOrderTransition mirrors committed order transitions onto the delivery
// lifecycle, keeping the delivery status in lockstep and never ahead.
func (s *Service) OnOrderTransition(ctx context.Context, ev models.TransitionEvent) error {
	switch ev.To {
	case models.OrderStatusReady:
		_, err := s.AssignDrone(ctx, ev.OrderID)
		return err
	case models.OrderStatusPickedUp:
		return s.RecordPickup(ctx, ev.OrderID)
	case models.OrderStatusDelivering:
		return s.RecordDeliveringStart(ctx, ev.OrderID)
	case models.OrderStatusDelivered:
		return s.RecordCompletion(ctx, ev.OrderID)
	case models.OrderStatusCancelled:
		return s.CancelDelivery(ctx, ev.OrderID)
	}
	return nil
}

// CreateDrone registers a new drone; an empty code gets a generated
// DRONE-XXXXXXXX one.
func (s *Service) CreateDrone(ctx context.Context, in models.DroneCreateInput) (*models.Drone, error) {
	if in.Code == "" {
		in.Code = "DRONE-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if in.MaxSpeedKmh <= 0 {
		in.MaxSpeedKmh = 50
	}
	return s.repo.CreateDrone(ctx, in, time.Now().UTC())
}

func (s *Service) GetDroneByCode(ctx context.Context, code string) (*models.Drone, error) {
	return s.repo.GetDroneByCode(ctx, code)
}

func (s *Service) ListDrones(ctx context.Context, status string) ([]*models.Drone, error) {
	return s.repo.ListDrones(ctx, status)
}

func (s *Service) ChargeDrone(ctx context.Context, code string) (*models.Drone, error) {
	return s.repo.ChargeDrone(ctx, code)
}

func (s *Service) publishAssigned(ctx context.Context, d *models.Delivery, speedKmh float64) {
	if s.producer == nil {
		return
	}
	b, err := json.Marshal(messages.DeliveryAssigned{
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		DroneCode:  d.DroneCode,
		StartLat:   d.StartLat,
		StartLng:   d.StartLng,
		DestLat:    d.DestLat,
		DestLng:    d.DestLng,
		SpeedKmh:   speedKmh,
		AssignedAt: *d.AssignedAt,
	})
	if err != nil {
		return
	}
	key := []byte(fmt.Sprintf("%d", d.OrderID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Error("publish delivery assigned", "order_id", d.OrderID, "error", err.Error())
	}
}
