package models

import "time"

// Order lifecycle. Transitions are validated by the orders service; CANCELLED
// is reachable from every non-terminal status.
const (
	OrderStatusNew        = "NEW"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusPreparing  = "PREPARING"
	OrderStatusReady      = "READY"
	OrderStatusPickedUp   = "PICKED_UP"
	OrderStatusDelivering = "DELIVERING"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

// IsTerminalOrderStatus reports whether no further order transition is allowed.
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusCancelled
}

type Order struct {
	ID           uint64
	CustomerID   uint64
	RestaurantID uint64
	Items        []OrderItem
	Status       string
	// TotalPrice is fixed at creation and never recomputed afterwards.
	TotalPrice      float64
	DeliveryAddress string
	DestLat         float64
	DestLng         float64
	CreatedAt       time.Time
	StatusChangedAt time.Time
}

type OrderItem struct {
	ProductID uint64
	Quantity  int
	// UnitPrice is the price at order time, not the current product price.
	UnitPrice float64
}

type OrderCreateInput struct {
	CustomerID      uint64
	RestaurantID    uint64
	Items           []OrderItem
	DeliveryAddress string
	DestLat         float64
	DestLng         float64
}

// TransitionEvent is emitted after an order status change commits.
type TransitionEvent struct {
	OrderID uint64
	From    string
	To      string
	Actor   string
	At      time.Time
}
