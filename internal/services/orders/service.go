package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foodfast/skytrack/internal/broker/messages"
	"github.com/foodfast/skytrack/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput, totalPrice float64, now time.Time) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uint64) (*models.Order, error)
	// UpdateOrderStatus commits the change only when the stored status still
	// equals from (compare-and-set).
	UpdateOrderStatus(ctx context.Context, orderID uint64, from, to string, at time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Listener reacts to committed transitions. The assignment manager creates a
// delivery on READY and mirrors the later stages; the tracker stops polling
// on terminal statuses.
type Listener interface {
	OnOrderTransition(ctx context.Context, ev models.TransitionEvent) error
}

// transitions is the authoritative successor table. CANCELLED is listed for
// every non-terminal status; DELIVERED and CANCELLED have no successors.
var transitions = map[string][]string{
	models.OrderStatusNew:        {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPreparing:  {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:      {models.OrderStatusPickedUp, models.OrderStatusCancelled},
	models.OrderStatusPickedUp:   {models.OrderStatusDelivering, models.OrderStatusCancelled},
	models.OrderStatusDelivering: {models.OrderStatusDelivered, models.OrderStatusCancelled},
}

func allowed(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Service struct {
	repo      Repository
	producer  Producer
	topic     string
	listeners []Listener

	// locks serialize transitions per order; stripes keep the map bounded.
	locks [64]sync.Mutex
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

// AddListener registers an in-process transition consumer. Listeners run in
// registration order after the status change commits.
func (s *Service) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Service) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if in.CustomerID == 0 {
		return nil, errors.New("customerId is required")
	}
	if in.RestaurantID == 0 {
		return nil, errors.New("restaurantId is required")
	}
	if len(in.Items) == 0 {
		return nil, errors.New("order has no items")
	}

	var total float64
	for _, it := range in.Items {
		if it.ProductID == 0 {
			return nil, errors.New("item productId is required")
		}
		if it.Quantity <= 0 {
			return nil, errors.New("item quantity must be positive")
		}
		if it.UnitPrice < 0 {
			return nil, errors.New("item unitPrice must not be negative")
		}
		total += float64(it.Quantity) * it.UnitPrice
	}

	return s.repo.CreateOrder(ctx, in, total, time.Now().UTC())
}

func (s *Service) GetOrder(ctx context.Context, orderID uint64) (*models.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// RequestTransition validates and commits a status change. Requests for the
// same order serialize on a per-order lock: exactly one of two racing calls
// wins, the loser observes the updated status and fails with the matching
// error instead of corrupting state.
func (s *Service) RequestTransition(ctx context.Context, orderID uint64, target, actor string) (*models.Order, error) {
	mu := s.lockFor(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if models.IsTerminalOrderStatus(o.Status) {
		return nil, errors.Wrapf(models.ErrTerminalOrder, "order %d is %s", orderID, o.Status)
	}
	if !allowed(o.Status, target) {
		return nil, errors.Wrapf(models.ErrInvalidTransition, "%s -> %s", o.Status, target)
	}

	now := time.Now().UTC()
	if err := s.repo.UpdateOrderStatus(ctx, orderID, o.Status, target, now); err != nil {
		return nil, err
	}

	ev := models.TransitionEvent{
		OrderID: orderID,
		From:    o.Status,
		To:      target,
		Actor:   actor,
		At:      now,
	}
	o.Status = target
	o.StatusChangedAt = now

	s.publish(ctx, ev)

	for _, l := range s.listeners {
		if err := l.OnOrderTransition(ctx, ev); err != nil {
			// The transition itself stands; the caller decides what to do
			// about the side effect (e.g. retry assignment on
			// ErrNoDroneAvailable).
			return o, err
		}
	}

	return o, nil
}

func (s *Service) publish(ctx context.Context, ev models.TransitionEvent) {
	if s.producer == nil {
		return
	}
	b, err := json.Marshal(messages.OrderTransitioned{
		OrderID: ev.OrderID,
		From:    ev.From,
		To:      ev.To,
		Actor:   ev.Actor,
		At:      ev.At,
	})
	if err != nil {
		return
	}
	key := []byte(fmt.Sprintf("%d", ev.OrderID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Error("publish order transition", "order_id", ev.OrderID, "error", err.Error())
	}
}

func (s *Service) lockFor(orderID uint64) *sync.Mutex {
	return &s.locks[orderID%uint64(len(s.locks))]
}
