package models

import "time"

// Delivery lifecycle. The delivery status trails the order status: it is
// advanced only by mirrored order transitions, never ahead of them.
const (
	DeliveryStatusPending    = "PENDING"
	DeliveryStatusAssigned   = "ASSIGNED"
	DeliveryStatusPickingUp  = "PICKING_UP"
	DeliveryStatusPickedUp   = "PICKED_UP"
	DeliveryStatusDelivering = "DELIVERING"
	DeliveryStatusCompleted  = "COMPLETED"
	DeliveryStatusCancelled  = "CANCELLED"
)

func IsTerminalDeliveryStatus(status string) bool {
	return status == DeliveryStatusCompleted || status == DeliveryStatusCancelled
}

// CanonicalPosition is the single normalized representation of a drone
// position. It is produced only by telemetry.Normalize so every reader sees
// the same shape regardless of which wire format the drone reported.
type CanonicalPosition struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	SpeedKmh float64 `json:"speed_kmh"`
	// Seq increases monotonically per drone; stale observations carry a
	// lower value and are dropped.
	Seq uint64 `json:"seq"`
}

type Delivery struct {
	ID        string `json:"id"`
	OrderID   uint64 `json:"order_id"`
	DroneCode string `json:"drone_code"`
	Status    string `json:"status"`

	DestinationAddress string  `json:"destination_address"`
	DestLat            float64 `json:"dest_lat"`
	DestLng            float64 `json:"dest_lng"`

	// Start coordinates are the drone's position when it was claimed; the
	// completed flight distance is measured from them.
	StartLat float64 `json:"start_lat"`
	StartLng float64 `json:"start_lng"`

	CreatedAt    time.Time  `json:"created_at"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	PickedUpAt   *time.Time `json:"picked_up_at,omitempty"`
	DeliveringAt *time.Time `json:"delivering_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	Position            *CanonicalPosition `json:"position,omitempty"`
	DistanceRemainingKm *float64           `json:"distance_remaining_km,omitempty"`
	EtaMinutes          *int               `json:"eta_minutes,omitempty"`
	LastPolledAt        *time.Time         `json:"last_polled_at,omitempty"`
}

// DeliverySnapshot is the read shape served by the query façade. An order
// that has not reached READY yet gets a pending-shaped snapshot (delivery
// status PENDING, no position) rather than an error.
type DeliverySnapshot struct {
	OrderID        uint64             `json:"order_id"`
	OrderStatus    string             `json:"order_status"`
	DeliveryID     string             `json:"delivery_id,omitempty"`
	DeliveryStatus string             `json:"delivery_status"`
	DroneCode      string             `json:"drone_code,omitempty"`
	Position       *CanonicalPosition `json:"position,omitempty"`
	DistanceKm     *float64           `json:"distance_remaining_km,omitempty"`
	EtaMinutes     *int               `json:"eta_minutes,omitempty"`
	Arrived        bool               `json:"arrived"`
	UpdatedAt      time.Time          `json:"updated_at"`
}
