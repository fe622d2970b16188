package messages

import "time"

// OrderTransitioned is published after an order status change commits.
// The track worker stops the delivery's polling loop when To is terminal.
type OrderTransitioned struct {
	OrderID uint64    `json:"order_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Actor   string    `json:"actor,omitempty"`
	At      time.Time `json:"at"`
}

// DeliveryAssigned is published once per order when a drone is claimed.
// The track worker starts the polling loop from it; start coordinates and
// speed let the simulated feed register the flight without a database read.
type DeliveryAssigned struct {
	DeliveryID string    `json:"delivery_id"`
	OrderID    uint64    `json:"order_id"`
	DroneCode  string    `json:"drone_code"`
	StartLat   float64   `json:"start_lat"`
	StartLng   float64   `json:"start_lng"`
	DestLat    float64   `json:"dest_lat"`
	DestLng    float64   `json:"dest_lng"`
	SpeedKmh   float64   `json:"speed_kmh"`
	AssignedAt time.Time `json:"assigned_at"`
}

// DeliveryUpdated carries one accepted telemetry observation with its derived
// estimate. Consumers must apply it only when seq advances past the stored
// observation.
type DeliveryUpdated struct {
	DeliveryID string  `json:"delivery_id"`
	OrderID    uint64  `json:"order_id"`
	DroneCode  string  `json:"drone_code"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	SpeedKmh   float64 `json:"speed_kmh"`
	Seq        uint64  `json:"seq"`

	DistanceRemainingKm float64 `json:"distance_remaining_km"`
	EtaMinutes          int     `json:"eta_minutes"`
	Arrived             bool    `json:"arrived"`

	CheckedAt time.Time `json:"checked_at"`
}
